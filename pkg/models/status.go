package models

// Status is the terminal state of one VIN's appraisal.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusProfit         Status = "PROFIT"
	StatusLoss           Status = "LOSS"
	StatusSuccess        Status = "SUCCESS"
	StatusNoPrice        Status = "NO_PRICE"
	StatusNoData         Status = "NO_DATA"
	StatusSessionExpired Status = "SESSION_EXPIRED"
	StatusError          Status = "ERROR"
)

func (s Status) String() string {
	return string(s)
}

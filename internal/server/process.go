package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"go-appraiser/internal/appraisal"
	"go-appraiser/internal/browser"
	"go-appraiser/internal/storage"
	"go-appraiser/pkg/models"
)

const loginAttempts = 10

// processBatch runs every row through the appraisal loop on one shared
// browser session. Individual VIN failures never stop the batch; only a
// cancelled context or an unrecoverable login does.
func (s *Server) processBatch(ctx context.Context, rows []models.RowItem, stream *Stream) {
	session := browser.NewSession(browser.Config{
		BaseURL:  s.cfg.SignalURL,
		Email:    s.cfg.SignalEmail,
		Password: s.cfg.SignalPassword,
		Headless: s.cfg.Headless,
	})

	stream.Log("info", "launching browser")
	if err := session.Start(ctx); err != nil {
		stream.Error("browser launch failed: " + err.Error())
		return
	}
	defer session.Stop()

	stream.Log("info", "logging in")
	if err := session.LoginLoop(ctx, loginAttempts); err != nil {
		stream.Error("login failed: " + err.Error())
		return
	}
	stream.Log("info", "login successful")

	orch := appraisal.NewOrchestrator(session, stream, appraisal.Config{
		BaseURL:     s.cfg.SignalURL,
		NavInterval: s.cfg.NavInterval,
		SettleWait:  s.cfg.NavInterval,
		RetryPause:  s.cfg.NavInterval,
	})

	var success, failures int
	for i, row := range rows {
		// Stop requests take effect between VINs, never mid-appraisal.
		if ctx.Err() != nil {
			stream.Log("warning", "processing stopped by request")
			break
		}

		// A periodic full restart keeps long batches from accumulating
		// browser-side state.
		if i > 0 && s.cfg.RestartEvery > 0 && i%s.cfg.RestartEvery == 0 {
			stream.Log("info", "scheduled browser restart")
			if err := session.Restart(ctx); err != nil {
				stream.Log("error", "scheduled restart failed: "+err.Error())
			} else if err := session.LoginLoop(ctx, loginAttempts); err != nil {
				stream.Error("re-login after scheduled restart failed: " + err.Error())
				break
			}
		}

		stream.Progress(
			float64(i+1)/float64(len(rows)),
			fmt.Sprintf("Processing VIN %d of %d | Success: %d | Errors: %d",
				i+1, len(rows), success, failures),
		)

		result := orch.Appraise(ctx, row)
		stream.Result(result)
		if result.Profit != nil {
			stream.Log("info", fmt.Sprintf("%s: %s (%s profit)",
				row.Vin, result.Status, storage.FormatCurrency(*result.Profit)))
		}

		switch result.Status {
		case models.StatusProfit, models.StatusLoss, models.StatusSuccess, models.StatusNoPrice:
			success++
		default:
			failures++
		}

		if err := s.store.SaveResult(ctx, result); err != nil {
			// Persistence failures are logged but never block the batch.
			zap.L().Error("result save failed", zap.String("vin", row.Vin), zap.Error(err))
			stream.Log("warning", "could not save result for "+row.Vin)
		}
	}

	stream.Complete(fmt.Sprintf("Batch finished: %d succeeded, %d failed", success, failures))
}

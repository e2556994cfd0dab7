package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"go-appraiser/pkg/models"
)

// Event is one server-sent message on the processing stream. Type is always
// set; the other fields depend on the type. Progress is a 0..1 fraction of
// the batch completed.
type Event struct {
	Type     string                  `json:"type"`
	Message  string                  `json:"message,omitempty"`
	Level    string                  `json:"level,omitempty"`
	Progress *float64                `json:"progress,omitempty"`
	Result   *models.AppraisalResult `json:"result,omitempty"`
}

// Stream writes events to one SSE response. Writes are serialized because
// the batch goroutine and HTTP handlers can both emit.
type Stream struct {
	mu sync.Mutex
	w  http.ResponseWriter
	fl http.Flusher
}

// NewStream prepares w for server-sent events. The returned stream is nil
// only if w cannot flush, which net/http response writers always can.
func NewStream(w http.ResponseWriter) *Stream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fl, _ := w.(http.Flusher)
	return &Stream{w: w, fl: fl}
}

func (s *Stream) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("event marshal failed", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		zap.L().Debug("event write failed, client likely gone", zap.Error(err))
		return
	}
	if s.fl != nil {
		s.fl.Flush()
	}
}

// Log mirrors an operational line to both the stream and the server log.
func (s *Stream) Log(level, message string) {
	switch level {
	case "error":
		zap.L().Error(message)
	case "warning":
		zap.L().Warn(message)
	default:
		zap.L().Info(message)
	}
	s.send(Event{Type: "log", Level: level, Message: message})
}

// Progress reports batch completion as a 0..1 fraction.
func (s *Stream) Progress(fraction float64, message string) {
	s.send(Event{Type: "progress", Message: message, Progress: &fraction})
}

func (s *Stream) Result(result models.AppraisalResult) {
	s.send(Event{Type: "result", Result: &result})
}

func (s *Stream) Error(message string) {
	zap.L().Error(message)
	s.send(Event{Type: "error", Message: message})
}

func (s *Stream) Complete(message string) {
	s.send(Event{Type: "complete", Message: message})
}

package ingest

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"pokealert/internal/clock"
	"pokealert/internal/domain"
)

// EventSink receives decoded events from ingest interfaces.
// Params: decoded event.
// Returns: processing error when the sink cannot accept the event.
type EventSink interface {
	Push(event *domain.Event) error
}

// HTTPHandler decodes webhook payloads and forwards events to the sink.
// Params: sink, body size limit, receive clock, and logger.
// Returns: HTTP handler for the webhook endpoint.
type HTTPHandler struct {
	sink        EventSink
	maxBodySize int64
	clk         clock.Clock
	logger      *slog.Logger
}

// NewHTTPHandler creates the webhook HTTP handler.
// Params: sink, max request body size in bytes, receive clock, and logger.
// Returns: configured handler.
func NewHTTPHandler(sink EventSink, maxBodySize int64, clk clock.Clock, logger *slog.Logger) *HTTPHandler {
	if maxBodySize <= 0 {
		maxBodySize = 4 << 20
	}
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, clk: clk, logger: logger}
}

// ServeHTTP handles one incoming webhook request.
// Params: HTTP request/response writer pair.
// Returns: 202 once the payload parses; entries with an unknown type or
// invalid message are logged and skipped rather than failing the batch.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	envelopes, err := DecodeEnvelopes(body)
	if err != nil {
		h.logger.Warn("webhook decode failed", slog.String("error", err.Error()))
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	batchID := uuid.NewString()
	accepted := h.forward(envelopes, batchID)
	h.logger.Debug("webhook batch processed",
		slog.String("batch_id", batchID),
		slog.Int("received", len(envelopes)),
		slog.Int("accepted", accepted))
	writer.WriteHeader(http.StatusAccepted)
}

// forward converts envelopes into events and pushes them to the sink.
// Params: decoded envelopes and batch correlation id for logs.
// Returns: number of events the sink accepted.
func (h *HTTPHandler) forward(envelopes []Envelope, batchID string) int {
	accepted := 0
	for i, envelope := range envelopes {
		kind, err := domain.KindFromWebhookType(envelope.Type)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownType) {
				h.logger.Debug("skipping webhook with unknown type",
					slog.String("batch_id", batchID),
					slog.Int("index", i),
					slog.String("type", envelope.Type))
			} else {
				h.logger.Warn("webhook type rejected",
					slog.String("batch_id", batchID),
					slog.Int("index", i),
					slog.String("error", err.Error()))
			}
			continue
		}
		event, err := domain.FromWebhook(kind, envelope.Message, h.clk.Now())
		if err != nil {
			h.logger.Warn("webhook message rejected",
				slog.String("batch_id", batchID),
				slog.Int("index", i),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()))
			continue
		}
		if err := h.sink.Push(event); err != nil {
			h.logger.Error("event push failed",
				slog.String("batch_id", batchID),
				slog.String("kind", string(kind)),
				slog.String("id", event.ID),
				slog.String("error", err.Error()))
			continue
		}
		accepted++
	}
	return accepted
}

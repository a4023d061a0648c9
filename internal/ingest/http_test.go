package ingest

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pokealert/internal/clock"
	"pokealert/internal/domain"
)

// captureSink records pushed events and can fail on demand.
type captureSink struct {
	events []*domain.Event
	err    error
}

func (s *captureSink) Push(event *domain.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func newTestHandler(sink EventSink) *HTTPHandler {
	return NewHTTPHandler(sink, 0, clock.RealClock{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const monsterBody = `{"type": "pokemon", "message": {
	"encounter_id": "enc-1",
	"pokemon_id": 147,
	"disappear_time": 1717243200,
	"latitude": 52.52,
	"longitude": 13.405
}}`

func TestHTTPHandlerRejectsNonPost(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(&captureSink{})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestHTTPHandlerRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(&captureSink{})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{broken")))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHTTPHandlerAcceptsAndForwards(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	handler := newTestHandler(sink)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(monsterBody)))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one forwarded event, got %d", len(sink.events))
	}
	event := sink.events[0]
	if event.Kind != domain.KindMonster || event.ID != "enc-1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestHTTPHandlerSkipsBadBatchEntries(t *testing.T) {
	t.Parallel()

	body := `[
		{"type": "captcha", "message": {}},
		{"type": "pokemon", "message": {"encounter_id": "enc-1"}},
		` + monsterBody + `
	]`
	sink := &captureSink{}
	handler := newTestHandler(sink)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("skipped entries must not fail the batch, got %d", recorder.Code)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one accepted event from the batch, got %d", len(sink.events))
	}
}

func TestHTTPHandlerSinkFailureStillAccepts(t *testing.T) {
	t.Parallel()

	sink := &captureSink{err: errors.New("queue is full")}
	handler := newTestHandler(sink)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(monsterBody)))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("sink failures are logged, not surfaced, got %d", recorder.Code)
	}
}

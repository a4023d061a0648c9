package app

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pokealert/internal/cache"
	"pokealert/internal/config"
	"pokealert/internal/domain"
	"pokealert/internal/engine"
	"pokealert/internal/geofence"
	"pokealert/internal/notify"
)

// fakeClock serves a fixed instant.
type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager wires one manager with catch-all filters and a single
// http alarm pointing at the given webhook URL.
func newTestManager(t *testing.T, webhookURL string, now time.Time) *Manager {
	t.Helper()
	logger := quietLogger()

	registry, err := geofence.NewRegistry(nil)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	filters := make(map[domain.Kind]map[string]*engine.Filter, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		filter, err := engine.NewFilter("any", kind, nil, registry)
		if err != nil {
			t.Fatalf("compile catch-all filter: %v", err)
		}
		filters[kind] = map[string]*engine.Filter{"any": filter}
	}
	rules, err := engine.NewRuleSet(filters, nil, []string{"hook"}, logger)
	if err != nil {
		t.Fatalf("build rule set: %v", err)
	}

	alarms, err := notify.NewAlarms([]config.AlarmConfig{{
		Name:        "hook",
		Type:        config.AlarmTypeHTTP,
		WebhookURL:  webhookURL,
		MaxAttempts: 1,
		BackoffSec:  1,
		TimeoutSec:  2,
	}}, logger)
	if err != nil {
		t.Fatalf("build alarms: %v", err)
	}

	return &Manager{
		name:      "test",
		logger:    logger,
		clk:       fakeClock{now: now},
		cache:     cache.NewMemory(),
		geofences: registry,
		locale:    domain.EmptyLocale(),
		tz:        time.UTC,
		units:     domain.UnitsMetric,
		rules:     rules,
		alarms:    map[string]*notify.Alarm{"hook": alarms[0]},
		queue:     make(chan *domain.Event, 10),
	}
}

func countingServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writer.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func testMonsterEvent(now time.Time) *domain.Event {
	return &domain.Event{
		Kind: domain.KindMonster,
		ID:   "enc-1",
		Lat:  52.52,
		Lng:  13.405,
		Monster: &domain.Monster{
			EncounterID: "enc-1",
			SpeciesID:   147,
			DespawnAt:   now.Add(20 * time.Minute),
		},
		Direction: domain.UnknownID,
	}
}

func testGymEvent(team int64) *domain.Event {
	return &domain.Event{
		Kind: domain.KindGym,
		ID:   "gym-1",
		Gym:  &domain.Gym{GymID: "gym-1", NewTeam: team, Name: domain.Unknown, Description: domain.Unknown},
	}
}

func TestProcessDropsDuplicateEvents(t *testing.T) {
	t.Parallel()

	server, hits := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, server.URL, now)

	manager.process(context.Background(), testMonsterEvent(now))
	manager.process(context.Background(), testMonsterEvent(now))

	if hits.Load() != 1 {
		t.Fatalf("expected one delivery, repeat sighting must dedup, got %d", hits.Load())
	}
	if _, ok := manager.cache.Expiration(domain.KindMonster, "enc-1"); !ok {
		t.Fatalf("processed event must be remembered")
	}
}

func TestProcessGymTeamChangeDedup(t *testing.T) {
	t.Parallel()

	server, hits := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, server.URL, now)

	manager.process(context.Background(), testGymEvent(1))
	manager.process(context.Background(), testGymEvent(1))
	if hits.Load() != 1 {
		t.Fatalf("unchanged team must dedup, got %d deliveries", hits.Load())
	}

	takeover := testGymEvent(3)
	manager.process(context.Background(), takeover)
	if hits.Load() != 2 {
		t.Fatalf("team change must notify again, got %d deliveries", hits.Load())
	}
	if !takeover.Gym.OldTeam.Known || takeover.Gym.OldTeam.Int() != 1 {
		t.Fatalf("old team must be patched from cache, got %+v", takeover.Gym.OldTeam)
	}
}

func TestProcessMinTimeLeftGate(t *testing.T) {
	t.Parallel()

	server, hits := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, server.URL, now)
	manager.minTimeLeft = 30 * time.Minute

	event := testMonsterEvent(now)
	event.Monster.DespawnAt = now.Add(5 * time.Minute)
	manager.process(context.Background(), event)

	if hits.Load() != 0 {
		t.Fatalf("event below minimum time left must not notify, got %d", hits.Load())
	}
	if _, ok := manager.cache.Expiration(domain.KindMonster, "enc-1"); !ok {
		t.Fatalf("gated event must still be remembered for dedup")
	}
}

func TestProcessEnrichesDistanceAndDirection(t *testing.T) {
	t.Parallel()

	server, _ := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, server.URL, now)
	manager.homeLat, manager.homeLng, manager.hasHome = 52.0, 13.0, true

	event := testMonsterEvent(now)
	manager.process(context.Background(), event)

	if !event.Distance.Known || event.Distance.Value <= 0 {
		t.Fatalf("distance must be patched from home, got %+v", event.Distance)
	}
	if event.Direction != "NE" {
		t.Fatalf("expected NE bearing, got %q", event.Direction)
	}
}

func TestProcessWithoutHomeLeavesDistanceUnknown(t *testing.T) {
	t.Parallel()

	server, _ := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, server.URL, now)

	event := testMonsterEvent(now)
	manager.process(context.Background(), event)
	if event.Distance.Known {
		t.Fatalf("unset home must leave distance unknown, got %+v", event.Distance)
	}
}

func TestHaversineMeters(t *testing.T) {
	t.Parallel()

	// One degree of longitude along the equator is ~111.2 km.
	got := haversineMeters(0, 0, 0, 1)
	if math.Abs(got-111195) > 100 {
		t.Fatalf("expected ~111195m, got %.0f", got)
	}
	if got := haversineMeters(52.52, 13.405, 52.52, 13.405); got != 0 {
		t.Fatalf("identical points must be 0m apart, got %.2f", got)
	}
}

func TestCompassDirection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		lat, lng float64
		want     string
	}{
		{1, 0, "N"},
		{1, 1, "NE"},
		{0, 1, "E"},
		{-1, 1, "SE"},
		{-1, 0, "S"},
		{-1, -1, "SW"},
		{0, -1, "W"},
		{1, -1, "NW"},
	}
	for _, tc := range cases {
		if got := compassDirection(0, 0, tc.lat, tc.lng); got != tc.want {
			t.Fatalf("bearing to (%v,%v): expected %s, got %s", tc.lat, tc.lng, tc.want, got)
		}
	}
}

func TestPushRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	server, _ := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, server.URL, now)
	manager.queue = make(chan *domain.Event, 1)

	if err := manager.Push(testMonsterEvent(now)); err != nil {
		t.Fatalf("first push must succeed: %v", err)
	}
	if err := manager.Push(testMonsterEvent(now)); err == nil {
		t.Fatalf("full queue must reject the push")
	}
}

func TestFanoutSinkClonesPerManager(t *testing.T) {
	t.Parallel()

	server, _ := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	first := newTestManager(t, server.URL, now)
	second := newTestManager(t, server.URL, now)

	sink := &fanoutSink{managers: []*Manager{first, second}, logger: quietLogger()}
	if err := sink.Push(testMonsterEvent(now)); err != nil {
		t.Fatalf("fan-out push: %v", err)
	}

	a := <-first.queue
	b := <-second.queue
	if a == b {
		t.Fatalf("managers must receive independent copies")
	}
	a.Monster.SpeciesID = 99
	if b.Monster.SpeciesID != 147 {
		t.Fatalf("payload mutation leaked across manager copies")
	}
}

func TestFanoutSinkSurvivesFullQueue(t *testing.T) {
	t.Parallel()

	server, _ := countingServer(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := newTestManager(t, server.URL, now)
	manager.queue = make(chan *domain.Event) // unbuffered, always full

	sink := &fanoutSink{managers: []*Manager{manager}, logger: quietLogger()}
	if err := sink.Push(testMonsterEvent(now)); err != nil {
		t.Fatalf("drops must not fail the fan-out: %v", err)
	}
}

package engine

import (
	"strings"
	"testing"
	"time"

	"pokealert/internal/domain"
	"pokealert/internal/geofence"
)

func testRegistry(t *testing.T) *geofence.Registry {
	t.Helper()
	poly, err := geofence.NewPolygon("downtown", []geofence.Point{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 10},
		{Lat: 10, Lng: 10},
		{Lat: 10, Lng: 0},
	})
	if err != nil {
		t.Fatalf("build polygon: %v", err)
	}
	registry, err := geofence.NewRegistry([]*geofence.Polygon{poly})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return registry
}

func monsterEvent(species int64, iv domain.Number) *domain.Event {
	return &domain.Event{
		Kind: domain.KindMonster,
		ID:   "enc-1",
		Lat:  5,
		Lng:  5,
		Monster: &domain.Monster{
			EncounterID: "enc-1",
			SpeciesID:   species,
			DespawnAt:   time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
			IV:          iv,
		},
	}
}

func TestNewFilterRejectsUnrecognizedSetting(t *testing.T) {
	t.Parallel()

	_, err := NewFilter("huntr", domain.KindMonster, map[string]any{"min_shinyness": float64(5)}, testRegistry(t))
	if err == nil || !strings.Contains(err.Error(), "min_shinyness") {
		t.Fatalf("expected unrecognized setting error, got %v", err)
	}
}

func TestFilterViolationFailsFastWithReason(t *testing.T) {
	t.Parallel()

	filter, err := NewFilter("iv90", domain.KindMonster, map[string]any{"min_iv": float64(90)}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	passed, reason := filter.Check(monsterEvent(147, domain.Num(80)), now)
	if passed {
		t.Fatalf("low iv must be rejected")
	}
	if reason != "failed min_iv check" {
		t.Fatalf("unexpected rejection reason %q", reason)
	}

	if passed, _ := filter.Check(monsterEvent(147, domain.Num(95)), now); !passed {
		t.Fatalf("high iv must pass")
	}
}

func TestFilterMissingInfoPolicy(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	unknownIV := monsterEvent(147, domain.Number{})
	knownIV := monsterEvent(147, domain.Num(95))

	// Unset policy: missing attributes pass the check unexamined.
	unset, err := NewFilter("any", domain.KindMonster, map[string]any{"min_iv": float64(90)}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}
	if passed, _ := unset.Check(unknownIV, now); !passed {
		t.Fatalf("missing iv with unset policy must pass")
	}

	// false: events carrying missing info are rejected.
	strict, err := NewFilter("strict", domain.KindMonster, map[string]any{
		"min_iv":          float64(90),
		"is_missing_info": false,
	}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}
	passed, reason := strict.Check(unknownIV, now)
	if passed {
		t.Fatalf("missing iv with policy false must be rejected")
	}
	if !strings.Contains(reason, "min_iv") {
		t.Fatalf("rejection reason must name the missing setting, got %q", reason)
	}
	if passed, _ := strict.Check(knownIV, now); !passed {
		t.Fatalf("fully known event must pass policy false")
	}

	// true: only events with missing info pass (rescan filters).
	rescan, err := NewFilter("rescan", domain.KindMonster, map[string]any{
		"min_iv":          float64(0),
		"is_missing_info": true,
	}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}
	if passed, _ := rescan.Check(unknownIV, now); !passed {
		t.Fatalf("missing iv with policy true must pass")
	}
	if passed, _ := rescan.Check(knownIV, now); passed {
		t.Fatalf("fully known event with policy true must be rejected")
	}
}

func TestFilterMonstersExclude(t *testing.T) {
	t.Parallel()

	filter, err := NewFilter("nopidgey", domain.KindMonster, map[string]any{
		"monsters_exclude": []any{float64(16), "19"},
	}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if passed, _ := filter.Check(monsterEvent(16, domain.Number{}), now); passed {
		t.Fatalf("excluded species must be rejected")
	}
	if passed, _ := filter.Check(monsterEvent(19, domain.Number{}), now); passed {
		t.Fatalf("string-keyed excluded species must be rejected")
	}
	if passed, _ := filter.Check(monsterEvent(147, domain.Number{}), now); !passed {
		t.Fatalf("non-excluded species must pass")
	}
}

func TestFilterGeofencePatchesEventName(t *testing.T) {
	t.Parallel()

	filter, err := NewFilter("area", domain.KindMonster, map[string]any{
		"geofences": []any{"Downtown"},
	}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	inside := monsterEvent(147, domain.Number{})
	if passed, _ := filter.Check(inside, now); !passed {
		t.Fatalf("event inside area must pass")
	}
	if inside.GeofenceName != "downtown" {
		t.Fatalf("passing containment must patch geofence name, got %q", inside.GeofenceName)
	}

	outside := monsterEvent(147, domain.Number{})
	outside.Lat, outside.Lng = 50, 50
	if passed, reason := filter.Check(outside, now); passed || reason != "failed geofences check" {
		t.Fatalf("event outside area must be rejected, got passed=%v reason=%q", passed, reason)
	}
}

func TestNewFilterRejectsUnregisteredGeofence(t *testing.T) {
	t.Parallel()

	_, err := NewFilter("bad", domain.KindMonster, map[string]any{
		"geofences": []any{"atlantis"},
	}, testRegistry(t))
	if err == nil || !strings.Contains(err.Error(), "atlantis") {
		t.Fatalf("expected unregistered geofence error, got %v", err)
	}
}

func TestFilterGeofenceAllSelectsEveryArea(t *testing.T) {
	t.Parallel()

	filter, err := NewFilter("anywhere", domain.KindMonster, map[string]any{
		"geofences": []any{"all"},
	}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if passed, _ := filter.Check(monsterEvent(147, domain.Number{}), now); !passed {
		t.Fatalf("event inside a registered area must pass the all selector")
	}
}

func TestFilterGymNameRegexIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	filter, err := NewFilter("parks", domain.KindGym, map[string]any{
		"gym_name_contains": "park",
	}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	event := &domain.Event{
		Kind: domain.KindGym,
		ID:   "gym-1",
		Gym:  &domain.Gym{GymID: "gym-1", NewTeam: 1, Name: "Lincoln PARK Statue"},
	}
	if passed, _ := filter.Check(event, now); !passed {
		t.Fatalf("case-insensitive pattern must match")
	}

	event.Gym.Name = domain.Unknown
	strictFalse := false
	filter.missingPolicy = &strictFalse
	if passed, _ := filter.Check(event, now); passed {
		t.Fatalf("unknown gym name with policy false must be rejected")
	}
}

func TestFilterMinTimeLeft(t *testing.T) {
	t.Parallel()

	filter, err := NewFilter("fresh", domain.KindRaid, map[string]any{
		"min_time_left": float64(600),
	}, testRegistry(t))
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	event := &domain.Event{
		Kind: domain.KindRaid,
		ID:   "gym-1",
		Raid: &domain.Raid{GymID: "gym-1", Level: 5, BossID: 150, EndAt: now.Add(5 * time.Minute)},
	}
	if passed, _ := filter.Check(event, now); passed {
		t.Fatalf("raid ending in 5m must fail a 10m minimum")
	}
	event.Raid.EndAt = now.Add(15 * time.Minute)
	if passed, _ := filter.Check(event, now); !passed {
		t.Fatalf("raid ending in 15m must pass a 10m minimum")
	}
}

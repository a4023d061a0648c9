// Package engine evaluates configured filters and rules against events.
package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"pokealert/internal/domain"
	"pokealert/internal/geofence"
)

// checkResult is the outcome of one compiled sub-check.
// Params: pass, violated, or missing-attribute marker.
// Returns: branch selector for filter evaluation.
type checkResult int

const (
	resultPass checkResult = iota
	resultViolated
	resultMissing
)

// check is one compiled predicate inside a filter.
// Params: settings key it came from and evaluation closure.
// Returns: per-event outcome; closures may patch the event's geofence
// name as a side effect of a passing containment test.
type check struct {
	name string
	run  func(e *domain.Event, now time.Time) checkResult
}

// Filter is one named predicate bundle for a single event kind.
// Params: compiled checks in deterministic key order and the optional
// missing-info policy.
// Returns: pass/reject decisions with human-readable rejection reasons.
type Filter struct {
	name          string
	kind          domain.Kind
	checks        []check
	missingPolicy *bool
}

// Name returns the filter's configured name.
// Params: none.
// Returns: filter name.
func (f *Filter) Name() string {
	return f.name
}

// Kind returns the event kind the filter applies to.
// Params: none.
// Returns: event kind.
func (f *Filter) Kind() domain.Kind {
	return f.kind
}

// NewFilter compiles one filter from its JSON settings.
// Params: filter name, event kind, raw settings mapping, and the
// manager's geofence registry.
// Returns: compiled filter, or error on any unrecognized settings key,
// malformed value, or reference to an unregistered geofence.
func NewFilter(name string, kind domain.Kind, settings map[string]any, geofences *geofence.Registry) (*Filter, error) {
	filter := &Filter{name: name, kind: kind}

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		handled, err := filter.compileCommon(key, value, geofences)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", name, err)
		}
		if handled {
			continue
		}
		handled, err = filter.compileKind(key, value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", name, err)
		}
		if !handled {
			return nil, fmt.Errorf("filter %q: unrecognized setting %q for kind %q", name, key, kind)
		}
	}
	return filter, nil
}

// Check evaluates one event against the filter.
// Params: event and evaluation time.
// Returns: pass flag and a rejection reason for failures. Violations
// fail fast; missing attributes are recorded and checked against the
// missing-info policy after every check has run.
func (f *Filter) Check(event *domain.Event, now time.Time) (bool, string) {
	var missing []string
	for _, c := range f.checks {
		switch c.run(event, now) {
		case resultViolated:
			return false, fmt.Sprintf("failed %s check", c.name)
		case resultMissing:
			missing = append(missing, c.name)
		}
	}
	if f.missingPolicy != nil {
		hasMissing := len(missing) > 0
		if hasMissing != *f.missingPolicy {
			if hasMissing {
				return false, "missing info for " + strings.Join(missing, ", ")
			}
			return false, "event carries no missing info"
		}
	}
	return true, ""
}

// compileCommon compiles settings shared by every event kind.
// Params: settings key, raw value, and geofence registry.
// Returns: handled flag and compile error.
func (f *Filter) compileCommon(key string, value any, geofences *geofence.Registry) (bool, error) {
	switch key {
	case "min_dist":
		threshold, err := settingFloat(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, minCheck(key, threshold, func(e *domain.Event) domain.Number {
			return e.Distance
		}))
	case "max_dist":
		threshold, err := settingFloat(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, maxCheck(key, threshold, func(e *domain.Event) domain.Number {
			return e.Distance
		}))
	case "geofences":
		names, err := settingStringList(key, value)
		if err != nil {
			return false, err
		}
		compiled, err := geofenceCheck(key, names, geofences)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, compiled)
	case "is_missing_info":
		policy, err := settingBool(key, value)
		if err != nil {
			return false, err
		}
		f.missingPolicy = &policy
	default:
		return false, nil
	}
	return true, nil
}

// compileKind compiles one kind-specific setting.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileKind(key string, value any) (bool, error) {
	switch f.kind {
	case domain.KindMonster:
		return f.compileMonster(key, value)
	case domain.KindStop:
		return f.compileStop(key, value)
	case domain.KindGym:
		return f.compileGym(key, value)
	case domain.KindEgg:
		return f.compileEgg(key, value)
	case domain.KindRaid:
		return f.compileRaid(key, value)
	case domain.KindQuest:
		return f.compileQuest(key, value)
	case domain.KindWeather:
		return f.compileWeather(key, value)
	case domain.KindInvasion:
		return f.compileInvasion(key, value)
	default:
		return false, fmt.Errorf("unsupported filter kind %q", f.kind)
	}
}

// compileMonster compiles monster-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileMonster(key string, value any) (bool, error) {
	numeric := map[string]func(*domain.Event) domain.Number{
		"iv":  func(e *domain.Event) domain.Number { return e.Monster.IV },
		"cp":  func(e *domain.Event) domain.Number { return e.Monster.CP },
		"lvl": func(e *domain.Event) domain.Number { return e.Monster.Level },
		"atk": func(e *domain.Event) domain.Number { return e.Monster.Atk },
		"def": func(e *domain.Event) domain.Number { return e.Monster.Def },
		"sta": func(e *domain.Event) domain.Number { return e.Monster.Sta },
	}
	if attr, bound, ok := splitBound(key); ok {
		get, known := numeric[attr]
		if known {
			threshold, err := settingFloat(key, value)
			if err != nil {
				return false, err
			}
			f.checks = append(f.checks, boundCheck(key, bound, threshold, get))
			return true, nil
		}
	}
	switch key {
	case "monsters":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return domain.Num(float64(e.Monster.SpeciesID))
		})
	case "monsters_exclude":
		return true, f.appendIDSet(key, value, true, func(e *domain.Event) domain.Number {
			return domain.Num(float64(e.Monster.SpeciesID))
		})
	case "quick_moves":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Monster.QuickMove
		})
	case "charge_moves":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Monster.ChargeMove
		})
	case "genders":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Monster.Gender
		})
	case "forms":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Monster.Form
		})
	case "weather":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Monster.WeatherID
		})
	}
	return false, nil
}

// compileStop compiles stop-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileStop(key string, value any) (bool, error) {
	switch key {
	case "min_time_left":
		return true, f.appendTimeLeft(key, value)
	}
	return false, nil
}

// compileGym compiles gym-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileGym(key string, value any) (bool, error) {
	switch key {
	case "new_teams":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return domain.Num(float64(e.Gym.NewTeam))
		})
	case "old_teams":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Gym.OldTeam
		})
	case "gym_name_contains":
		pattern, err := settingRegex(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, regexCheck(key, pattern, func(e *domain.Event) string {
			return e.Gym.Name
		}))
		return true, nil
	}
	return false, nil
}

// compileEgg compiles egg-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileEgg(key string, value any) (bool, error) {
	level := func(e *domain.Event) domain.Number { return domain.Num(float64(e.Egg.Level)) }
	switch key {
	case "min_egg_lvl":
		threshold, err := settingFloat(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, minCheck(key, threshold, level))
		return true, nil
	case "max_egg_lvl":
		threshold, err := settingFloat(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, maxCheck(key, threshold, level))
		return true, nil
	case "min_time_left":
		return true, f.appendTimeLeft(key, value)
	}
	return false, nil
}

// compileRaid compiles raid-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileRaid(key string, value any) (bool, error) {
	level := func(e *domain.Event) domain.Number { return domain.Num(float64(e.Raid.Level)) }
	switch key {
	case "min_raid_lvl":
		threshold, err := settingFloat(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, minCheck(key, threshold, level))
		return true, nil
	case "max_raid_lvl":
		threshold, err := settingFloat(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, maxCheck(key, threshold, level))
		return true, nil
	case "monsters":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return domain.Num(float64(e.Raid.BossID))
		})
	case "monsters_exclude":
		return true, f.appendIDSet(key, value, true, func(e *domain.Event) domain.Number {
			return domain.Num(float64(e.Raid.BossID))
		})
	case "quick_moves":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Raid.QuickMove
		})
	case "charge_moves":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Raid.ChargeMove
		})
	case "min_time_left":
		return true, f.appendTimeLeft(key, value)
	}
	return false, nil
}

// compileQuest compiles quest-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileQuest(key string, value any) (bool, error) {
	switch key {
	case "task_contains":
		pattern, err := settingRegex(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, regexCheck(key, pattern, func(e *domain.Event) string {
			return e.Quest.Task
		}))
		return true, nil
	case "reward_types":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Quest.RewardType
		})
	case "reward_monsters":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return e.Quest.RewardMonsterID
		})
	}
	return false, nil
}

// compileWeather compiles weather-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileWeather(key string, value any) (bool, error) {
	switch key {
	case "conditions":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return domain.Num(float64(e.Weather.Condition))
		})
	case "day_or_night":
		values, err := settingStringList(key, value)
		if err != nil {
			return false, err
		}
		f.checks = append(f.checks, stringSetCheck(key, values, func(e *domain.Event) string {
			return e.Weather.DayOrNight
		}))
		return true, nil
	}
	return false, nil
}

// compileInvasion compiles invasion-kind settings.
// Params: settings key and raw value.
// Returns: handled flag and compile error.
func (f *Filter) compileInvasion(key string, value any) (bool, error) {
	switch key {
	case "grunt_types":
		return true, f.appendIDSet(key, value, false, func(e *domain.Event) domain.Number {
			return domain.Num(float64(e.Invasion.GruntType))
		})
	case "min_time_left":
		return true, f.appendTimeLeft(key, value)
	}
	return false, nil
}

// appendIDSet compiles one id allow/deny membership check.
// Params: settings key, raw value, deny toggle, and attribute accessor.
// Returns: compile error.
func (f *Filter) appendIDSet(key string, value any, deny bool, get func(*domain.Event) domain.Number) error {
	set, err := settingIDSet(key, value)
	if err != nil {
		return err
	}
	f.checks = append(f.checks, check{name: key, run: func(e *domain.Event, _ time.Time) checkResult {
		attr := get(e)
		if !attr.Known {
			return resultMissing
		}
		_, member := set[attr.Int()]
		if member == deny {
			return resultViolated
		}
		return resultPass
	}})
	return nil
}

// appendTimeLeft compiles one minimum-remaining-lifetime check.
// Params: settings key and raw value in seconds.
// Returns: compile error.
func (f *Filter) appendTimeLeft(key string, value any) error {
	seconds, err := settingFloat(key, value)
	if err != nil {
		return err
	}
	minLeft := time.Duration(seconds * float64(time.Second))
	f.checks = append(f.checks, check{name: key, run: func(e *domain.Event, now time.Time) checkResult {
		expireAt, ok := e.ExpireAt()
		if !ok {
			return resultMissing
		}
		if expireAt.Sub(now) < minLeft {
			return resultViolated
		}
		return resultPass
	}})
	return nil
}

// minCheck compiles one lower-bound numeric check.
// Params: settings key, threshold, and attribute accessor.
// Returns: compiled check; unknown attributes report missing.
func minCheck(key string, threshold float64, get func(*domain.Event) domain.Number) check {
	return check{name: key, run: func(e *domain.Event, _ time.Time) checkResult {
		attr := get(e)
		if !attr.Known {
			return resultMissing
		}
		if attr.Value < threshold {
			return resultViolated
		}
		return resultPass
	}}
}

// maxCheck compiles one upper-bound numeric check.
// Params: settings key, threshold, and attribute accessor.
// Returns: compiled check; unknown attributes report missing.
func maxCheck(key string, threshold float64, get func(*domain.Event) domain.Number) check {
	return check{name: key, run: func(e *domain.Event, _ time.Time) checkResult {
		attr := get(e)
		if !attr.Known {
			return resultMissing
		}
		if attr.Value > threshold {
			return resultViolated
		}
		return resultPass
	}}
}

// boundCheck compiles one min or max numeric check.
// Params: settings key, bound selector, threshold, and accessor.
// Returns: compiled check.
func boundCheck(key, bound string, threshold float64, get func(*domain.Event) domain.Number) check {
	if bound == "min" {
		return minCheck(key, threshold, get)
	}
	return maxCheck(key, threshold, get)
}

// regexCheck compiles one substring-pattern check.
// Params: settings key, compiled pattern, and attribute accessor.
// Returns: compiled check; the unknown placeholder reports missing.
func regexCheck(key string, pattern *regexp.Regexp, get func(*domain.Event) string) check {
	return check{name: key, run: func(e *domain.Event, _ time.Time) checkResult {
		text := get(e)
		if text == "" || text == domain.Unknown || text == domain.UnknownText {
			return resultMissing
		}
		if !pattern.MatchString(text) {
			return resultViolated
		}
		return resultPass
	}}
}

// stringSetCheck compiles one case-insensitive string membership check.
// Params: settings key, allowed values, and attribute accessor.
// Returns: compiled check; the unknown placeholder reports missing.
func stringSetCheck(key string, values []string, get func(*domain.Event) string) check {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[strings.ToLower(value)] = struct{}{}
	}
	return check{name: key, run: func(e *domain.Event, _ time.Time) checkResult {
		text := get(e)
		if text == "" || text == domain.Unknown || text == domain.UnknownText {
			return resultMissing
		}
		if _, ok := set[strings.ToLower(text)]; !ok {
			return resultViolated
		}
		return resultPass
	}}
}

// geofenceCheck compiles one containment check over named areas.
// Params: settings key, area names ("all" selects every registered
// area), and the manager's registry.
// Returns: compiled check or error on an unregistered name; a passing
// containment patches the event's geofence name.
func geofenceCheck(key string, names []string, geofences *geofence.Registry) (check, error) {
	var polygons []*geofence.Polygon
	all := false
	for _, name := range names {
		if strings.EqualFold(name, "all") {
			all = true
			continue
		}
		poly, ok := geofences.Get(name)
		if !ok {
			return check{}, fmt.Errorf("setting %q: geofence %q is not registered", key, name)
		}
		polygons = append(polygons, poly)
	}
	if all {
		polygons = nil
		for _, name := range geofences.Names() {
			poly, _ := geofences.Get(name)
			polygons = append(polygons, poly)
		}
	}
	return check{name: key, run: func(e *domain.Event, _ time.Time) checkResult {
		for _, poly := range polygons {
			if poly.Contains(e.Lat, e.Lng) {
				e.GeofenceName = poly.Name()
				return resultPass
			}
		}
		return resultViolated
	}}, nil
}

// splitBound splits a "min_x"/"max_x" key into attribute and bound.
// Params: settings key.
// Returns: attribute suffix, bound prefix, and recognized flag.
func splitBound(key string) (attr, bound string, ok bool) {
	switch {
	case strings.HasPrefix(key, "min_"):
		return key[4:], "min", true
	case strings.HasPrefix(key, "max_"):
		return key[4:], "max", true
	default:
		return "", "", false
	}
}

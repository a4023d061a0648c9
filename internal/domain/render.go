package domain

import (
	"fmt"
	"strconv"
	"time"

	"pokealert/internal/dts"
)

// Units selects the distance unit system used in rendered text.
type Units string

const (
	// UnitsMetric renders meters below one kilometer, then kilometers.
	UnitsMetric Units = "metric"
	// UnitsImperial renders yards below one mile, then miles.
	UnitsImperial Units = "imperial"
)

// GeneratePayload builds the dynamic text substitution map for one event.
// Params: locale tables, display timezone, unit system, and render time.
// Returns: string-keyed payload consumed by template replacement; unknown
// attributes render as their sentinel placeholders.
func (e *Event) GeneratePayload(locale *Locale, tz *time.Location, units Units, now time.Time) map[string]string {
	payload := map[string]string{
		"lat":       strconv.FormatFloat(e.Lat, 'f', 5, 64),
		"lng":       strconv.FormatFloat(e.Lng, 'f', 5, 64),
		"gmaps":     fmt.Sprintf("https://maps.google.com/maps?q=%.5f,%.5f", e.Lat, e.Lng),
		"applemaps": fmt.Sprintf("https://maps.apple.com/maps?daddr=%.5f,%.5f", e.Lat, e.Lng),
		"direction": e.Direction,
		"geofence":  orText(e.GeofenceName, Unknown),
	}
	if e.Distance.Known {
		payload["distance"] = dts.FormatDistance(e.Distance.Value, units == UnitsImperial)
	} else {
		payload["distance"] = UnknownID
	}

	switch e.Kind {
	case KindMonster:
		e.monsterPayload(payload, locale, tz, now)
	case KindStop:
		e.stopPayload(payload, tz, now)
	case KindGym:
		e.gymPayload(payload, locale)
	case KindEgg:
		e.eggPayload(payload, tz, now)
	case KindRaid:
		e.raidPayload(payload, locale, tz, now)
	case KindQuest:
		e.questPayload(payload, locale, tz, now)
	case KindWeather:
		e.weatherPayload(payload, locale, tz)
	case KindInvasion:
		e.invasionPayload(payload, locale, tz, now)
	}
	return payload
}

// monsterPayload adds monster-specific substitution fields.
// Params: destination payload, locale, timezone, and render time.
// Returns: none; payload mutated in place.
func (e *Event) monsterPayload(payload map[string]string, locale *Locale, tz *time.Location, now time.Time) {
	m := e.Monster
	payload["mon_name"] = locale.MonsterName(m.SpeciesID)
	payload["mon_id"] = strconv.FormatInt(m.SpeciesID, 10)
	payload["encounter_id"] = m.EncounterID
	payload["form"] = locale.FormName(m.Form)
	payload["gender"] = genderText(m.Gender)
	payload["iv"] = percentText(m.IV)
	payload["atk"] = numberText(m.Atk)
	payload["def"] = numberText(m.Def)
	payload["sta"] = numberText(m.Sta)
	payload["cp"] = numberText(m.CP)
	payload["level"] = numberText(m.Level)
	payload["quick_move"] = locale.MoveName(m.QuickMove)
	payload["charge_move"] = locale.MoveName(m.ChargeMove)
	payload["boosted"] = boostedText(m.Boosted)
	if m.WeatherID.Known {
		payload["weather"] = locale.WeatherName(m.WeatherID.Int())
	} else {
		payload["weather"] = Unknown
	}
	addTimes(payload, "", m.DespawnAt, tz, now)
}

// stopPayload adds stop-specific substitution fields.
// Params: destination payload, timezone, and render time.
// Returns: none; payload mutated in place.
func (e *Event) stopPayload(payload map[string]string, tz *time.Location, now time.Time) {
	payload["stop_id"] = e.Stop.StopID
	addTimes(payload, "", e.Stop.LureExpireAt, tz, now)
}

// gymPayload adds gym-specific substitution fields.
// Params: destination payload and locale.
// Returns: none; payload mutated in place.
func (e *Event) gymPayload(payload map[string]string, locale *Locale) {
	g := e.Gym
	payload["gym_id"] = g.GymID
	payload["gym_name"] = orText(g.Name, Unknown)
	payload["gym_description"] = orText(g.Description, Unknown)
	payload["gym_image"] = g.ImageURL
	payload["new_team"] = locale.TeamName(g.NewTeam)
	payload["new_team_id"] = strconv.FormatInt(g.NewTeam, 10)
	if g.OldTeam.Known {
		payload["old_team"] = locale.TeamName(g.OldTeam.Int())
		payload["old_team_id"] = strconv.FormatInt(g.OldTeam.Int(), 10)
	} else {
		payload["old_team"] = Unknown
		payload["old_team_id"] = UnknownID
	}
}

// eggPayload adds egg-specific substitution fields.
// Params: destination payload, timezone, and render time.
// Returns: none; payload mutated in place.
func (e *Event) eggPayload(payload map[string]string, tz *time.Location, now time.Time) {
	g := e.Egg
	payload["gym_id"] = g.GymID
	payload["egg_lvl"] = strconv.FormatInt(g.Level, 10)
	addTimes(payload, "hatch_", g.HatchAt, tz, now)
	addTimes(payload, "raid_end_", g.EndAt, tz, now)
	// Bare time fields track the hatch, the next visible transition.
	addTimes(payload, "", g.HatchAt, tz, now)
}

// raidPayload adds raid-specific substitution fields.
// Params: destination payload, locale, timezone, and render time.
// Returns: none; payload mutated in place.
func (e *Event) raidPayload(payload map[string]string, locale *Locale, tz *time.Location, now time.Time) {
	r := e.Raid
	payload["gym_id"] = r.GymID
	payload["raid_lvl"] = strconv.FormatInt(r.Level, 10)
	payload["mon_name"] = locale.MonsterName(r.BossID)
	payload["mon_id"] = strconv.FormatInt(r.BossID, 10)
	payload["quick_move"] = locale.MoveName(r.QuickMove)
	payload["charge_move"] = locale.MoveName(r.ChargeMove)
	addTimes(payload, "", r.EndAt, tz, now)
}

// questPayload adds quest-specific substitution fields.
// Params: destination payload, locale, timezone, and render time.
// Returns: none; payload mutated in place.
func (e *Event) questPayload(payload map[string]string, locale *Locale, tz *time.Location, now time.Time) {
	q := e.Quest
	payload["stop_id"] = q.StopID
	payload["quest_task"] = q.Task
	payload["reward_type"] = numberText(q.RewardType)
	payload["reward_amount"] = numberText(q.RewardAmount)
	if q.RewardMonsterID.Known {
		payload["reward_mon_name"] = locale.MonsterName(q.RewardMonsterID.Int())
	} else {
		payload["reward_mon_name"] = Unknown
	}
	addTimes(payload, "", q.ExpireAt, tz, now)
}

// weatherPayload adds weather-specific substitution fields.
// Params: destination payload, locale, and timezone.
// Returns: none; payload mutated in place.
func (e *Event) weatherPayload(payload map[string]string, locale *Locale, tz *time.Location) {
	w := e.Weather
	payload["cell_id"] = w.CellID
	payload["weather"] = locale.WeatherName(w.Condition)
	payload["weather_id"] = strconv.FormatInt(w.Condition, 10)
	payload["severity"] = numberText(w.Severity)
	payload["day_or_night"] = w.DayOrNight
	payload["changed_time"] = dts.FormatClock12(w.ChangedAt, tz)
	payload["changed_24h_time"] = dts.FormatClock24(w.ChangedAt, tz)
}

// invasionPayload adds invasion-specific substitution fields.
// Params: destination payload, locale, timezone, and render time.
// Returns: none; payload mutated in place.
func (e *Event) invasionPayload(payload map[string]string, locale *Locale, tz *time.Location, now time.Time) {
	i := e.Invasion
	payload["stop_id"] = i.StopID
	payload["grunt_type"] = locale.GruntName(i.GruntType)
	payload["grunt_type_id"] = strconv.FormatInt(i.GruntType, 10)
	addTimes(payload, "", i.ExpireAt, tz, now)
}

// addTimes adds 12h/24h clock and countdown fields for one timestamp.
// Params: destination payload, key prefix, timestamp, timezone, render time.
// Returns: none; payload mutated in place.
func addTimes(payload map[string]string, prefix string, at time.Time, tz *time.Location, now time.Time) {
	payload[prefix+"time"] = dts.FormatClock12(at, tz)
	payload[prefix+"24h_time"] = dts.FormatClock24(at, tz)
	payload[prefix+"time_left"] = dts.FormatDuration(at.Sub(now))
}

// numberText renders one optional number compactly.
// Params: optional number.
// Returns: integer text or the "?" placeholder.
func numberText(n Number) string {
	if !n.Known {
		return UnknownID
	}
	if n.Value == float64(n.Int()) {
		return strconv.FormatInt(n.Int(), 10)
	}
	return strconv.FormatFloat(n.Value, 'f', 1, 64)
}

// percentText renders one optional percentage.
// Params: optional percent value.
// Returns: "96.7" style text or the "?" placeholder.
func percentText(n Number) string {
	if !n.Known {
		return UnknownID
	}
	return strconv.FormatFloat(n.Value, 'f', 1, 64)
}

// genderText renders one optional gender id.
// Params: optional gender id (1 male, 2 female, 3 genderless).
// Returns: symbol text or the "?" placeholder.
func genderText(n Number) string {
	if !n.Known {
		return UnknownID
	}
	switch n.Int() {
	case 1:
		return "♂"
	case 2:
		return "♀"
	case 3:
		return "⚲"
	default:
		return UnknownID
	}
}

// boostedText renders one optional weather-boost flag.
// Params: optional boost flag (1 boosted, 0 not).
// Returns: yes/no text or the "???" placeholder.
func boostedText(n Number) string {
	if !n.Known {
		return UnknownText
	}
	if n.Value > 0 {
		return "boosted"
	}
	return ""
}

// orText substitutes a fallback for empty strings.
// Params: value and fallback.
// Returns: value when non-empty, fallback otherwise.
func orText(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

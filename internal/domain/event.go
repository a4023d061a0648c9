package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one observed game fact category.
// Params: constants for the eight supported webhook kinds.
// Returns: normalized kind tag used across pipeline.
type Kind string

const (
	// KindMonster marks wild monster sightings.
	KindMonster Kind = "monster"
	// KindStop marks lured pokestop observations.
	KindStop Kind = "stop"
	// KindGym marks gym team-ownership changes.
	KindGym Kind = "gym"
	// KindEgg marks raid egg appearances.
	KindEgg Kind = "egg"
	// KindRaid marks hatched raid bosses.
	KindRaid Kind = "raid"
	// KindQuest marks field research quests.
	KindQuest Kind = "quest"
	// KindWeather marks cell weather changes.
	KindWeather Kind = "weather"
	// KindInvasion marks pokestop invasions.
	KindInvasion Kind = "invasion"
)

const (
	// UnknownID stands in for absent numeric/id fields in rendered text.
	UnknownID = "?"
	// UnknownText stands in for absent free-form strings in rendered text.
	UnknownText = "???"
	// Unknown is the generic placeholder rendered verbatim to users.
	Unknown = "unknown"
)

// Kinds lists every supported event kind in stable order.
// Params: none.
// Returns: ordered kind slice for registries and sweeps.
func Kinds() []Kind {
	return []Kind{
		KindMonster,
		KindStop,
		KindGym,
		KindEgg,
		KindRaid,
		KindQuest,
		KindWeather,
		KindInvasion,
	}
}

// Number is one optional numeric event attribute with explicit presence.
// Params: value payload and known marker.
// Returns: missing-aware numeric field checked without language nil.
type Number struct {
	Value float64
	Known bool
}

// Num wraps a known numeric value.
// Params: raw numeric value.
// Returns: present Number.
func Num(value float64) Number {
	return Number{Value: value, Known: true}
}

// Int returns the value truncated to int64.
// Params: none.
// Returns: integer view of a known value (0 when unknown).
func (n Number) Int() int64 {
	if !n.Known {
		return 0
	}
	return int64(n.Value)
}

// Event is one normalized observed game fact.
// Params: kind tag, entity identity, coordinates, one kind payload, and
// manager-populated enrichment fields.
// Returns: validated event consumed by filter evaluation and rendering.
type Event struct {
	Kind Kind
	// ID is the stable entity identity used for cache dedup
	// (encounter id, stop id, gym id, cell id).
	ID  string
	Lat float64
	Lng float64

	Monster  *Monster
	Stop     *Stop
	Gym      *Gym
	Egg      *Egg
	Raid     *Raid
	Quest    *Quest
	Weather  *Weather
	Invasion *Invasion

	// Distance and Direction start unknown and are patched once by the
	// owning manager from its home location.
	Distance  Number
	Direction string
	// GeofenceName is set as a side effect of a passing geofence check.
	GeofenceName string
}

// Monster holds wild-sighting attributes.
// Params: required identity/species/despawn and optional encounter stats.
// Returns: monster payload for filters and rendering.
type Monster struct {
	EncounterID string
	SpeciesID   int64
	DespawnAt   time.Time

	Atk        Number
	Def        Number
	Sta        Number
	IV         Number
	CP         Number
	Level      Number
	QuickMove  Number
	ChargeMove Number
	Gender     Number
	Form       Number
	WeatherID  Number
	Boosted    Number
}

// Stop holds lured pokestop attributes.
// Params: stop identity and lure expiry.
// Returns: stop payload for filters and rendering.
type Stop struct {
	StopID       string
	LureExpireAt time.Time
}

// Gym holds gym ownership-change attributes.
// Params: gym identity, new team, and cache-patched descriptive fields.
// Returns: gym payload for filters and rendering.
type Gym struct {
	GymID   string
	NewTeam int64

	// OldTeam, Name, Description, and ImageURL are patched from the
	// manager cache after construction.
	OldTeam     Number
	Name        string
	Description string
	ImageURL    string
}

// Egg holds raid-egg attributes.
// Params: gym identity, egg level, and hatch/end times.
// Returns: egg payload for filters and rendering.
type Egg struct {
	GymID   string
	Level   int64
	HatchAt time.Time
	EndAt   time.Time
}

// Raid holds hatched raid-boss attributes.
// Params: gym identity, raid level, boss species, end time, and moves.
// Returns: raid payload for filters and rendering.
type Raid struct {
	GymID      string
	Level      int64
	BossID     int64
	EndAt      time.Time
	QuickMove  Number
	ChargeMove Number
}

// Quest holds field-research attributes.
// Params: stop identity, task text, and reward fields.
// Returns: quest payload for filters and rendering.
type Quest struct {
	StopID          string
	Task            string
	RewardType      Number
	RewardAmount    Number
	RewardMonsterID Number
	ExpireAt        time.Time
}

// Weather holds cell weather attributes.
// Params: cell identity, gameplay condition, and day/night phase.
// Returns: weather payload for filters and rendering.
type Weather struct {
	CellID     string
	Condition  int64
	Severity   Number
	DayOrNight string
	ChangedAt  time.Time
}

// Invasion holds pokestop invasion attributes.
// Params: stop identity, grunt type, and incident expiry.
// Returns: invasion payload for filters and rendering.
type Invasion struct {
	StopID    string
	GruntType int64
	ExpireAt  time.Time
}

// ErrUnknownType marks webhook payloads with an unsupported type discriminator.
var ErrUnknownType = errors.New("unknown webhook type")

// KindFromWebhookType maps one webhook type discriminator to event kind.
// Params: raw type value from webhook envelope.
// Returns: event kind or ErrUnknownType.
func KindFromWebhookType(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pokemon", "monster":
		return KindMonster, nil
	case "pokestop", "stop", "lure":
		return KindStop, nil
	case "gym", "gym_details", "gym-details":
		return KindGym, nil
	case "egg", "raid_egg":
		return KindEgg, nil
	case "raid":
		return KindRaid, nil
	case "quest":
		return KindQuest, nil
	case "weather":
		return KindWeather, nil
	case "invasion", "incident":
		return KindInvasion, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownType, raw)
	}
}

// FromWebhook builds one validated event from a loose webhook message body.
// Params: kind tag, raw string-keyed message mapping, and the receive time
// used to default absent quest/weather timestamps.
// Returns: constructed event or validation error naming the offending field.
func FromWebhook(kind Kind, message map[string]any, now time.Time) (*Event, error) {
	payload := rawPayload(message)
	lat, err := payload.requireFloat("latitude", "lat")
	if err != nil {
		return nil, err
	}
	lng, err := payload.requireFloat("longitude", "lng", "lon")
	if err != nil {
		return nil, err
	}

	event := &Event{
		Kind:      kind,
		Lat:       lat,
		Lng:       lng,
		Direction: UnknownID,
	}

	switch kind {
	case KindMonster:
		err = decodeMonster(event, payload)
	case KindStop:
		err = decodeStop(event, payload)
	case KindGym:
		err = decodeGym(event, payload)
	case KindEgg:
		err = decodeEgg(event, payload)
	case KindRaid:
		err = decodeRaid(event, payload)
	case KindQuest:
		err = decodeQuest(event, payload, now)
	case KindWeather:
		err = decodeWeather(event, payload, now)
	case KindInvasion:
		err = decodeInvasion(event, payload)
	default:
		err = fmt.Errorf("%w %q", ErrUnknownType, kind)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Clone copies the event and its kind payload.
// Params: none.
// Returns: independent copy safe to hand to concurrent managers, each
// of which patches enrichment fields in place.
func (e *Event) Clone() *Event {
	copied := *e
	switch {
	case e.Monster != nil:
		payload := *e.Monster
		copied.Monster = &payload
	case e.Stop != nil:
		payload := *e.Stop
		copied.Stop = &payload
	case e.Gym != nil:
		payload := *e.Gym
		copied.Gym = &payload
	case e.Egg != nil:
		payload := *e.Egg
		copied.Egg = &payload
	case e.Raid != nil:
		payload := *e.Raid
		copied.Raid = &payload
	case e.Quest != nil:
		payload := *e.Quest
		copied.Quest = &payload
	case e.Weather != nil:
		payload := *e.Weather
		copied.Weather = &payload
	case e.Invasion != nil:
		payload := *e.Invasion
		copied.Invasion = &payload
	}
	return &copied
}

// ExpireAt returns the entity-lifecycle expiration used for cache dedup.
// Params: none.
// Returns: expiration timestamp and false for kinds without one (gym).
func (e *Event) ExpireAt() (time.Time, bool) {
	switch e.Kind {
	case KindMonster:
		return e.Monster.DespawnAt, true
	case KindStop:
		return e.Stop.LureExpireAt, true
	case KindEgg:
		return e.Egg.HatchAt, true
	case KindRaid:
		return e.Raid.EndAt, true
	case KindQuest:
		return e.Quest.ExpireAt, true
	case KindWeather:
		return e.Weather.ChangedAt.Truncate(time.Hour).Add(time.Hour), true
	case KindInvasion:
		return e.Invasion.ExpireAt, true
	default:
		return time.Time{}, false
	}
}

// decodeMonster fills monster payload from raw message.
// Params: destination event and raw payload.
// Returns: validation error for missing required fields.
func decodeMonster(event *Event, payload rawPayload) error {
	encounterID, err := payload.requireString("encounter_id")
	if err != nil {
		return err
	}
	speciesID, err := payload.requireInt("pokemon_id", "monster_id")
	if err != nil {
		return err
	}
	despawnAt, err := payload.requireTime("disappear_time", "despawn_time")
	if err != nil {
		return err
	}

	monster := &Monster{
		EncounterID: encounterID,
		SpeciesID:   speciesID,
		DespawnAt:   despawnAt,
		Atk:         payload.optionalNumber("individual_attack", "atk_iv"),
		Def:         payload.optionalNumber("individual_defense", "def_iv"),
		Sta:         payload.optionalNumber("individual_stamina", "sta_iv"),
		CP:          payload.optionalNumber("cp"),
		Level:       payload.optionalNumber("pokemon_level", "level"),
		QuickMove:   payload.optionalNumber("move_1", "quick_move"),
		ChargeMove:  payload.optionalNumber("move_2", "charge_move"),
		Gender:      payload.optionalNumber("gender"),
		Form:        payload.optionalNumber("form"),
		WeatherID:   payload.optionalNumber("weather", "boosted_weather"),
	}
	monster.IV = derivePercentIV(monster.Atk, monster.Def, monster.Sta)
	monster.Boosted = deriveBoosted(monster.WeatherID)

	event.ID = encounterID
	event.Monster = monster
	return nil
}

// derivePercentIV computes percent IV from three substats.
// Params: attack/defense/stamina optionals.
// Returns: derived percent or unknown when any input is unknown.
func derivePercentIV(atk, def, sta Number) Number {
	if !atk.Known || !def.Known || !sta.Known {
		return Number{}
	}
	return Num((atk.Value + def.Value + sta.Value) * 100 / 45)
}

// deriveBoosted computes weather-boost flag from weather id.
// Params: optional weather id.
// Returns: 1/0 boosted flag or unknown when weather is unknown.
func deriveBoosted(weather Number) Number {
	if !weather.Known {
		return Number{}
	}
	if weather.Value > 0 {
		return Num(1)
	}
	return Num(0)
}

// decodeStop fills stop payload from raw message.
// Params: destination event and raw payload.
// Returns: validation error for missing required fields.
func decodeStop(event *Event, payload rawPayload) error {
	stopID, err := payload.requireString("pokestop_id", "stop_id")
	if err != nil {
		return err
	}
	lureExpireAt, err := payload.requireTime("lure_expiration", "lure_expire")
	if err != nil {
		return err
	}
	event.ID = stopID
	event.Stop = &Stop{StopID: stopID, LureExpireAt: lureExpireAt}
	return nil
}

// decodeGym fills gym payload from raw message.
// Params: destination event and raw payload.
// Returns: validation error for missing required fields.
func decodeGym(event *Event, payload rawPayload) error {
	gymID, err := payload.requireString("gym_id", "id")
	if err != nil {
		return err
	}
	newTeam, err := payload.requireInt("team_id", "team")
	if err != nil {
		return err
	}
	event.ID = gymID
	event.Gym = &Gym{
		GymID:       gymID,
		NewTeam:     newTeam,
		Name:        payload.optionalString("name", Unknown),
		Description: payload.optionalString("description", Unknown),
		ImageURL:    payload.optionalString("url", ""),
	}
	return nil
}

// decodeEgg fills egg payload from raw message.
// Params: destination event and raw payload.
// Returns: validation error for missing required fields.
func decodeEgg(event *Event, payload rawPayload) error {
	gymID, err := payload.requireString("gym_id", "id")
	if err != nil {
		return err
	}
	level, err := payload.requireInt("level", "raid_level")
	if err != nil {
		return err
	}
	hatchAt, err := payload.requireTime("start", "raid_begin", "hatch_time")
	if err != nil {
		return err
	}
	endAt, err := payload.requireTime("end", "raid_end")
	if err != nil {
		return err
	}
	event.ID = gymID
	event.Egg = &Egg{GymID: gymID, Level: level, HatchAt: hatchAt, EndAt: endAt}
	return nil
}

// decodeRaid fills raid payload from raw message.
// Params: destination event and raw payload.
// Returns: validation error for missing required fields.
func decodeRaid(event *Event, payload rawPayload) error {
	gymID, err := payload.requireString("gym_id", "id")
	if err != nil {
		return err
	}
	level, err := payload.requireInt("level", "raid_level")
	if err != nil {
		return err
	}
	bossID, err := payload.requireInt("pokemon_id", "monster_id")
	if err != nil {
		return err
	}
	endAt, err := payload.requireTime("end", "raid_end")
	if err != nil {
		return err
	}
	event.ID = gymID
	event.Raid = &Raid{
		GymID:      gymID,
		Level:      level,
		BossID:     bossID,
		EndAt:      endAt,
		QuickMove:  payload.optionalNumber("move_1", "quick_move"),
		ChargeMove: payload.optionalNumber("move_2", "charge_move"),
	}
	return nil
}

// decodeQuest fills quest payload from raw message.
// Params: destination event, raw payload, and receive time.
// Returns: validation error for missing required fields.
func decodeQuest(event *Event, payload rawPayload, now time.Time) error {
	stopID, err := payload.requireString("pokestop_id", "stop_id")
	if err != nil {
		return err
	}
	task, err := payload.requireString("quest", "task")
	if err != nil {
		return err
	}
	expireAt, ok := payload.optionalTime("expire_time", "quest_expiration")
	if !ok {
		// Research quests reset daily; absent expiry defaults to the
		// next UTC midnight after the receive time.
		expireAt = now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
	event.ID = stopID
	event.Quest = &Quest{
		StopID:          stopID,
		Task:            task,
		RewardType:      payload.optionalNumber("reward_type"),
		RewardAmount:    payload.optionalNumber("reward_amount", "item_amount"),
		RewardMonsterID: payload.optionalNumber("monster_id", "pokemon_id"),
		ExpireAt:        expireAt,
	}
	return nil
}

// decodeWeather fills weather payload from raw message.
// Params: destination event, raw payload, and receive time.
// Returns: validation error for missing required fields.
func decodeWeather(event *Event, payload rawPayload, now time.Time) error {
	cellID, err := payload.requireString("s2_cell_id", "cell_id")
	if err != nil {
		return err
	}
	condition, err := payload.requireInt("condition", "gameplay_condition", "weather")
	if err != nil {
		return err
	}
	changedAt, ok := payload.optionalTime("time_changed")
	if !ok {
		changedAt = now.UTC()
	}
	event.ID = cellID
	event.Weather = &Weather{
		CellID:     cellID,
		Condition:  condition,
		Severity:   payload.optionalNumber("severity"),
		DayOrNight: payload.optionalString("day_or_night", Unknown),
		ChangedAt:  changedAt,
	}
	return nil
}

// decodeInvasion fills invasion payload from raw message.
// Params: destination event and raw payload.
// Returns: validation error for missing required fields.
func decodeInvasion(event *Event, payload rawPayload) error {
	stopID, err := payload.requireString("pokestop_id", "stop_id")
	if err != nil {
		return err
	}
	gruntType, err := payload.requireInt("grunt_type", "incident_grunt_type", "character")
	if err != nil {
		return err
	}
	expireAt, err := payload.requireTime("incident_expiration", "incident_expire_timestamp")
	if err != nil {
		return err
	}
	event.ID = stopID
	event.Invasion = &Invasion{StopID: stopID, GruntType: gruntType, ExpireAt: expireAt}
	return nil
}

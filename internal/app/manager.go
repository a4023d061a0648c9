package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"pokealert/internal/cache"
	"pokealert/internal/clock"
	"pokealert/internal/config"
	"pokealert/internal/domain"
	"pokealert/internal/engine"
	"pokealert/internal/geofence"
	"pokealert/internal/notify"
)

const sweepInterval = 5 * time.Minute

var compassPoints = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Manager processes events for one configured instance.
// Params: compiled rules, alarms, cache, geofences, and render options.
// Returns: per-instance FIFO event loop with alarm fan-out.
type Manager struct {
	name        string
	logger      *slog.Logger
	clk         clock.Clock
	cache       cache.Cache
	geofences   *geofence.Registry
	locale      *domain.Locale
	tz          *time.Location
	units       domain.Units
	rules       *engine.RuleSet
	alarms      map[string]*notify.Alarm
	queue       chan *domain.Event
	minTimeLeft time.Duration
	homeLat     float64
	homeLng     float64
	hasHome     bool
}

// NewManager builds one manager from its config section.
// Params: manager config, logger, and clock.
// Returns: ready manager or setup error; any invalid referenced
// document (geofences, alarms, filters, rules) fails construction.
func NewManager(cfg config.ManagerConfig, logger *slog.Logger, clk clock.Clock) (*Manager, error) {
	logger = logger.With(slog.String("manager", cfg.Name))

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("manager %q: load timezone: %w", cfg.Name, err)
	}

	locale := domain.EmptyLocale()
	if cfg.LocaleFile != "" {
		locale, err = domain.LoadLocale(cfg.LocaleFile)
		if err != nil {
			return nil, fmt.Errorf("manager %q: %w", cfg.Name, err)
		}
	}

	geofences, err := loadGeofences(cfg.GeofenceFile)
	if err != nil {
		return nil, fmt.Errorf("manager %q: %w", cfg.Name, err)
	}

	store, err := cache.New(cfg.Cache.Backend, cfg.Cache.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("manager %q: %w", cfg.Name, err)
	}

	alarms, alarmOrder, err := loadAlarms(cfg.AlarmsFile, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("manager %q: %w", cfg.Name, err)
	}

	rules, err := loadRules(cfg, geofences, alarmOrder, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("manager %q: %w", cfg.Name, err)
	}

	return &Manager{
		name:        cfg.Name,
		logger:      logger,
		clk:         clk,
		cache:       store,
		geofences:   geofences,
		locale:      locale,
		tz:          tz,
		units:       domain.Units(cfg.Units),
		rules:       rules,
		alarms:      alarms,
		queue:       make(chan *domain.Event, cfg.QueueSize),
		minTimeLeft: time.Duration(cfg.MinTimeLeftSec) * time.Second,
		homeLat:     cfg.Latitude,
		homeLng:     cfg.Longitude,
		hasHome:     cfg.Latitude != 0 || cfg.Longitude != 0,
	}, nil
}

// loadGeofences loads the optional geofence file.
// Params: geofence file path, possibly empty.
// Returns: registry (empty when no file is configured) or parse error.
func loadGeofences(path string) (*geofence.Registry, error) {
	if path == "" {
		return geofence.NewRegistry(nil)
	}
	return geofence.LoadFile(path)
}

// loadAlarms loads and constructs the manager's alarms.
// Params: alarms document path and logger.
// Returns: alarms by name, names in document order, or error.
func loadAlarms(path string, logger *slog.Logger) (map[string]*notify.Alarm, []string, error) {
	configs, err := config.LoadAlarms(path)
	if err != nil {
		return nil, nil, err
	}
	alarms, err := notify.NewAlarms(configs, logger)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]*notify.Alarm, len(alarms))
	order := make([]string, 0, len(alarms))
	for _, alarm := range alarms {
		byName[alarm.Name()] = alarm
		order = append(order, alarm.Name())
	}
	return byName, order, nil
}

// loadRules compiles filters and rules from the manager's documents.
// Params: manager config, geofence registry, alarm names, and logger.
// Returns: validated rule set or compile error.
func loadRules(cfg config.ManagerConfig, geofences *geofence.Registry, alarmNames []string, logger *slog.Logger) (*engine.RuleSet, error) {
	kindNames := make([]string, 0, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		kindNames = append(kindNames, string(kind))
	}

	filterDocs, err := config.LoadFilters(cfg.FiltersFile, kindNames)
	if err != nil {
		return nil, err
	}
	filters := make(map[domain.Kind]map[string]*engine.Filter, len(filterDocs))
	for kindName, byName := range filterDocs {
		kind := domain.Kind(kindName)
		compiled := make(map[string]*engine.Filter, len(byName))
		for name, settings := range byName {
			filter, err := engine.NewFilter(name, kind, settings, geofences)
			if err != nil {
				return nil, err
			}
			compiled[name] = filter
		}
		filters[kind] = compiled
	}

	rules := make(map[domain.Kind][]engine.Rule)
	if cfg.RulesFile != "" {
		ruleDocs, err := config.LoadRules(cfg.RulesFile, kindNames)
		if err != nil {
			return nil, err
		}
		for kindName, kindRules := range ruleDocs {
			kind := domain.Kind(kindName)
			for _, rule := range kindRules {
				rules[kind] = append(rules[kind], engine.Rule{
					Name:    rule.Name,
					Filters: rule.Filters,
					Alarms:  rule.Alarms,
				})
			}
		}
	}

	return engine.NewRuleSet(filters, rules, alarmNames, logger)
}

// Name returns the manager's configured name.
// Params: none.
// Returns: manager name.
func (m *Manager) Name() string {
	return m.name
}

// Push enqueues one event for processing.
// Params: decoded event.
// Returns: error when the queue is full; the event is dropped then.
func (m *Manager) Push(event *domain.Event) error {
	select {
	case m.queue <- event:
		return nil
	default:
		return fmt.Errorf("manager %q queue is full", m.name)
	}
}

// Run processes queued events until the context is canceled.
// Params: run context.
// Returns: nil after the final sweep and cache close complete.
func (m *Manager) Run(ctx context.Context) error {
	for name, alarm := range m.alarms {
		if err := alarm.Connect(ctx); err != nil {
			m.logger.Warn("alarm connect failed on startup",
				slog.String("alarm", name),
				slog.String("error", err.Error()))
		}
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.close()
		case event := <-m.queue:
			m.process(ctx, event)
		case <-ticker.C:
			m.sweep()
		}
	}
}

// close performs the final sweep, save, and cache shutdown.
// Params: none.
// Returns: nil; close failures are logged, not propagated.
func (m *Manager) close() error {
	m.sweep()
	if err := m.cache.Save(); err != nil {
		m.logger.Error("final cache save failed", slog.String("error", err.Error()))
	}
	if err := m.cache.Close(); err != nil {
		m.logger.Error("cache close failed", slog.String("error", err.Error()))
	}
	m.logger.Info("manager stopped")
	return nil
}

// sweep drops expired cache entries and persists the snapshot.
// Params: none.
// Returns: none.
func (m *Manager) sweep() {
	dropped := m.cache.Sweep(m.clk.Now())
	if err := m.cache.Save(); err != nil {
		m.logger.Error("cache save failed", slog.String("error", err.Error()))
	}
	if dropped > 0 {
		m.logger.Debug("cache sweep completed", slog.Int("dropped", dropped))
	}
}

// process runs one event through enrich, dedup, gate, and rules.
// Params: processing context and event.
// Returns: none; all alarm sends for the event join before return, so
// events leave the manager strictly in queue order.
func (m *Manager) process(ctx context.Context, event *domain.Event) {
	now := m.clk.Now()
	m.enrich(event)

	if m.isDuplicate(event, now) {
		m.logger.Debug("duplicate event dropped",
			slog.String("kind", string(event.Kind)),
			slog.String("id", event.ID))
		return
	}
	m.remember(event)

	if expireAt, ok := event.ExpireAt(); ok && m.minTimeLeft > 0 {
		if expireAt.Sub(now) < m.minTimeLeft {
			m.logger.Debug("event below minimum time left",
				slog.String("kind", string(event.Kind)),
				slog.String("id", event.ID))
			return
		}
	}

	dispatches := m.rules.Evaluate(event, now)
	if len(dispatches) == 0 {
		return
	}

	payload := event.GeneratePayload(m.locale, m.tz, m.units, now)
	var wg sync.WaitGroup
	fired := make(map[string]struct{})
	for _, dispatch := range dispatches {
		m.logger.Info("event matched",
			slog.String("kind", string(event.Kind)),
			slog.String("id", event.ID),
			slog.String("rule", dispatch.RuleName),
			slog.String("filter", dispatch.FilterName))
		for _, alarmName := range dispatch.Alarms {
			if _, done := fired[alarmName]; done {
				continue
			}
			fired[alarmName] = struct{}{}
			alarm, ok := m.alarms[alarmName]
			if !ok {
				continue
			}
			wg.Add(1)
			go func(alarm *notify.Alarm) {
				defer wg.Done()
				if err := alarm.TrySending(ctx, event, payload); err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Warn("alarm send aborted", slog.String("error", err.Error()))
				}
			}(alarm)
		}
	}
	wg.Wait()
}

// enrich patches distance, direction, and cached gym data onto event.
// Params: event under processing.
// Returns: none; event mutated in place.
func (m *Manager) enrich(event *domain.Event) {
	if m.hasHome {
		meters := haversineMeters(m.homeLat, m.homeLng, event.Lat, event.Lng)
		event.Distance = domain.Num(meters)
		event.Direction = compassDirection(m.homeLat, m.homeLng, event.Lat, event.Lng)
	}

	if event.Kind == domain.KindGym {
		if team, ok := m.cache.Team(event.Gym.GymID); ok {
			event.Gym.OldTeam = domain.Num(float64(team))
		}
		info := m.cache.GymInfo(event.Gym.GymID)
		if event.Gym.Name == domain.Unknown && info.Name != domain.Unknown {
			event.Gym.Name = info.Name
		}
		if event.Gym.Description == domain.Unknown && info.Description != domain.Unknown {
			event.Gym.Description = info.Description
		}
		if event.Gym.ImageURL == "" {
			event.Gym.ImageURL = info.ImageURL
		}
	}
}

// isDuplicate reports whether the event repeats known cache state.
// Params: event and current time.
// Returns: true for entity ids whose stored lifecycle has not expired,
// and for gym events that do not change the controlling team.
func (m *Manager) isDuplicate(event *domain.Event, now time.Time) bool {
	if event.Kind == domain.KindGym {
		team, ok := m.cache.Team(event.Gym.GymID)
		return ok && team == event.Gym.NewTeam
	}
	storedExpire, ok := m.cache.Expiration(event.Kind, event.ID)
	return ok && storedExpire.After(now)
}

// remember stores the event's lifecycle state in the cache.
// Params: event under processing.
// Returns: none.
func (m *Manager) remember(event *domain.Event) {
	if event.Kind == domain.KindGym {
		m.cache.SetTeam(event.Gym.GymID, event.Gym.NewTeam)
		m.cache.SetGymInfo(event.Gym.GymID, cache.GymInfo{
			Name:        event.Gym.Name,
			Description: event.Gym.Description,
			ImageURL:    event.Gym.ImageURL,
		})
		return
	}
	if expireAt, ok := event.ExpireAt(); ok {
		m.cache.SetExpiration(event.Kind, event.ID, expireAt)
	}
}

// haversineMeters computes great-circle distance between two points.
// Params: origin and destination coordinates in decimal degrees.
// Returns: distance in meters.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusM = 6371000
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// compassDirection computes the 8-point bearing from home to event.
// Params: origin and destination coordinates in decimal degrees.
// Returns: one of N/NE/E/SE/S/SW/W/NW.
func compassDirection(lat1, lng1, lat2, lng2 float64) string {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaLambda := (lng2 - lng1) * math.Pi / 180

	y := math.Sin(deltaLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)
	bearing := math.Atan2(y, x) * 180 / math.Pi
	if bearing < 0 {
		bearing += 360
	}
	index := int(math.Round(bearing/45)) % len(compassPoints)
	return compassPoints[index]
}

// Package notify delivers rendered notifications to configured alarm
// backends with bounded retries.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"pokealert/internal/config"
	"pokealert/internal/domain"
	"pokealert/internal/dts"
	"pokealert/internal/permanent"
)

// Message is one rendered outbound notification.
// Params: title and body text plus event coordinates for senders that
// attach locations.
// Returns: transport-independent delivery payload.
type Message struct {
	Title string
	Body  string
	Lat   float64
	Lng   float64
}

// Sender delivers one message over one transport.
// Params: context and rendered message.
// Returns: transport error when delivery fails; permanent-marked errors
// stop the retry loop early.
type Sender interface {
	Kind() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, message Message) error
}

// Alarm is one configured notification target.
// Params: sender transport, per-kind templates, retry policy, and
// optional outbound rate limiter.
// Returns: best-effort delivery that never fails the event loop.
type Alarm struct {
	name        string
	sender      Sender
	templates   map[domain.Kind]config.AlarmTemplate
	maxAttempts int
	backoff     time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewAlarms builds every alarm from the manager's alarm document.
// Params: validated alarm configs and logger.
// Returns: alarms in document order, or sender construction error.
func NewAlarms(configs []config.AlarmConfig, logger *slog.Logger) ([]*Alarm, error) {
	alarms := make([]*Alarm, 0, len(configs))
	for _, cfg := range configs {
		alarm, err := newAlarm(cfg, logger)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, alarm)
	}
	return alarms, nil
}

// newAlarm builds one alarm from its config.
// Params: validated alarm config and logger.
// Returns: ready alarm or sender construction error.
func newAlarm(cfg config.AlarmConfig, logger *slog.Logger) (*Alarm, error) {
	sender, err := newSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("alarm %q: %w", cfg.Name, err)
	}

	templates := make(map[domain.Kind]config.AlarmTemplate, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		merged := defaultTemplate(kind)
		if override, ok := cfg.Templates[string(kind)]; ok {
			if override.Title != "" {
				merged.Title = override.Title
			}
			if override.Body != "" {
				merged.Body = override.Body
			}
		}
		templates[kind] = merged
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerMin/60), 1)
	}

	return &Alarm{
		name:        cfg.Name,
		sender:      sender,
		templates:   templates,
		maxAttempts: cfg.MaxAttempts,
		backoff:     time.Duration(cfg.BackoffSec * float64(time.Second)),
		limiter:     limiter,
		logger:      logger.With(slog.String("alarm", cfg.Name)),
	}, nil
}

// newSender builds the transport for one alarm type.
// Params: validated alarm config.
// Returns: transport sender or construction error.
func newSender(cfg config.AlarmConfig) (Sender, error) {
	switch cfg.Type {
	case config.AlarmTypeTelegram:
		return NewTelegramSender(cfg.BotToken, cfg.ChatID), nil
	case config.AlarmTypeDiscord:
		return NewDiscordSender(cfg.WebhookURL, cfg.TimeoutSec), nil
	case config.AlarmTypeSlack:
		return NewSlackSender(cfg.WebhookURL, cfg.TimeoutSec), nil
	case config.AlarmTypeHTTP:
		return NewHTTPSender(cfg.WebhookURL, cfg.TimeoutSec), nil
	default:
		return nil, fmt.Errorf("unsupported alarm type %q", cfg.Type)
	}
}

// Name returns the alarm's configured name.
// Params: none.
// Returns: alarm name.
func (a *Alarm) Name() string {
	return a.name
}

// Connect establishes the transport ahead of the first send.
// Params: context for connection setup.
// Returns: transport error; safe to call repeatedly.
func (a *Alarm) Connect(ctx context.Context) error {
	return a.sender.Connect(ctx)
}

// Render substitutes the event payload into the kind's templates.
// Params: event kind and substitution payload.
// Returns: rendered message; tokens without payload entries stay
// verbatim.
func (a *Alarm) Render(kind domain.Kind, payload map[string]string) Message {
	tmpl := a.templates[kind]
	return Message{
		Title: dts.Replace(tmpl.Title, payload),
		Body:  dts.Replace(tmpl.Body, payload),
	}
}

// TrySending delivers one event notification with bounded retries.
// Params: context, event, and substitution payload.
// Returns: nil on success and on terminal delivery failure (the failure
// is logged, never propagated); context errors abort the wait.
func (a *Alarm) TrySending(ctx context.Context, event *domain.Event, payload map[string]string) error {
	message := a.Render(event.Kind, payload)
	message.Lat = event.Lat
	message.Lng = event.Lng

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		err := a.sender.Send(ctx, message)
		if err == nil {
			if attempt > 1 {
				a.logger.Info("alarm send recovered after retries",
					slog.Int("attempt", attempt))
			}
			return nil
		}
		if permanent.Is(err) {
			a.logger.Error("alarm send failed permanently",
				slog.String("kind", string(event.Kind)),
				slog.String("id", event.ID),
				slog.String("error", err.Error()))
			return nil
		}
		a.logger.Warn("alarm send attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", a.maxAttempts),
			slog.String("error", err.Error()))
		if attempt == a.maxAttempts {
			break
		}

		if timer == nil {
			timer = time.NewTimer(a.backoff)
		} else {
			timer.Reset(a.backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := a.sender.Connect(ctx); err != nil {
			a.logger.Warn("alarm reconnect failed",
				slog.String("error", err.Error()))
		}
	}

	a.logger.Error("alarm send failed after all attempts",
		slog.String("kind", string(event.Kind)),
		slog.String("id", event.ID),
		slog.Int("attempts", a.maxAttempts))
	return nil
}

// defaultTemplate returns the built-in templates for one event kind.
// Params: event kind.
// Returns: title and body templates used when the alarm config does not
// override them.
func defaultTemplate(kind domain.Kind) config.AlarmTemplate {
	switch kind {
	case domain.KindMonster:
		return config.AlarmTemplate{
			Title: "A wild <mon_name> has appeared!",
			Body:  "Available until <24h_time> (<time_left>). <gmaps>",
		}
	case domain.KindStop:
		return config.AlarmTemplate{
			Title: "Someone has placed a lure on a pokestop!",
			Body:  "Lure expires at <24h_time> (<time_left>). <gmaps>",
		}
	case domain.KindGym:
		return config.AlarmTemplate{
			Title: "<gym_name> has fallen to Team <new_team>!",
			Body:  "Previously controlled by Team <old_team>. <gmaps>",
		}
	case domain.KindEgg:
		return config.AlarmTemplate{
			Title: "A level <egg_lvl> raid egg is incubating!",
			Body:  "Hatches at <hatch_24h_time> (<hatch_time_left>). <gmaps>",
		}
	case domain.KindRaid:
		return config.AlarmTemplate{
			Title: "A level <raid_lvl> raid on <mon_name> has started!",
			Body:  "Available until <24h_time> (<time_left>). <gmaps>",
		}
	case domain.KindQuest:
		return config.AlarmTemplate{
			Title: "New field research at a pokestop!",
			Body:  "Task: <quest_task>. <gmaps>",
		}
	case domain.KindWeather:
		return config.AlarmTemplate{
			Title: "The weather has changed to <weather>!",
			Body:  "Cell <cell_id> changed at <changed_24h_time>.",
		}
	case domain.KindInvasion:
		return config.AlarmTemplate{
			Title: "A pokestop has been invaded by <grunt_type>!",
			Body:  "Expires at <24h_time> (<time_left>). <gmaps>",
		}
	default:
		return config.AlarmTemplate{}
	}
}

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

const (
	defaultAlarmMaxAttempts = 3
	defaultAlarmBackoffSec  = 3
)

// AlarmTypeTelegram through AlarmTypeHTTP name supported alarm backends.
const (
	AlarmTypeTelegram = "telegram"
	AlarmTypeDiscord  = "discord"
	AlarmTypeSlack    = "slack"
	AlarmTypeHTTP     = "http"
)

var supportedAlarmTypes = map[string]struct{}{
	AlarmTypeTelegram: {},
	AlarmTypeDiscord:  {},
	AlarmTypeSlack:    {},
	AlarmTypeHTTP:     {},
}

// AlarmConfig defines one notification backend instance.
// Params: backend selection, retry policy, transport credentials, and
// per-kind template overrides.
// Returns: alarm construction options.
type AlarmConfig struct {
	Name            string                   `json:"name"`
	Type            string                   `json:"type"`
	MaxAttempts     int                      `json:"max_attempts"`
	BackoffSec      float64                  `json:"backoff_sec"`
	RateLimitPerMin float64                  `json:"rate_limit_per_min"`
	BotToken        string                   `json:"bot_token"`
	ChatID          string                   `json:"chat_id"`
	WebhookURL      string                   `json:"webhook_url"`
	TimeoutSec      int                      `json:"timeout_sec"`
	Templates       map[string]AlarmTemplate `json:"templates"`
}

// AlarmTemplate holds title and body templates for one event kind.
// Params: template strings with `<key>` substitution tokens.
// Returns: message layout for the alarm.
type AlarmTemplate struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// RuleConfig binds filter names to alarm names for one kind.
// Params: ordered filter and alarm name lists.
// Returns: dispatch definition handed to the rule engine.
type RuleConfig struct {
	Name    string   `json:"-"`
	Filters []string `json:"filters"`
	Alarms  []string `json:"alarms"`
}

// LoadAlarms reads one alarms JSON document.
// Params: document path.
// Returns: alarm configs with retry defaults applied, or decode or
// validation error; unknown object keys reject the document.
func LoadAlarms(path string) ([]AlarmConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alarms file: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var alarms []AlarmConfig
	if err := decoder.Decode(&alarms); err != nil {
		return nil, fmt.Errorf("decode alarms file %q: %w", path, err)
	}
	if len(alarms) == 0 {
		return nil, fmt.Errorf("alarms file %q defines no alarms", path)
	}

	seen := make(map[string]struct{}, len(alarms))
	for i := range alarms {
		alarm := &alarms[i]
		if strings.TrimSpace(alarm.Name) == "" {
			return nil, fmt.Errorf("alarms file %q: alarm %d has no name", path, i)
		}
		if _, dup := seen[alarm.Name]; dup {
			return nil, fmt.Errorf("alarms file %q: duplicate alarm name %q", path, alarm.Name)
		}
		seen[alarm.Name] = struct{}{}
		if _, ok := supportedAlarmTypes[alarm.Type]; !ok {
			return nil, fmt.Errorf("alarm %q: unsupported type %q", alarm.Name, alarm.Type)
		}
		if err := validateAlarmTransport(alarm); err != nil {
			return nil, err
		}
		if alarm.MaxAttempts <= 0 {
			alarm.MaxAttempts = defaultAlarmMaxAttempts
		}
		if alarm.BackoffSec <= 0 {
			alarm.BackoffSec = defaultAlarmBackoffSec
		}
		if alarm.RateLimitPerMin < 0 {
			return nil, fmt.Errorf("alarm %q: rate_limit_per_min must not be negative", alarm.Name)
		}
	}
	return alarms, nil
}

// validateAlarmTransport checks backend-specific required fields.
// Params: alarm config under validation.
// Returns: error naming the missing field.
func validateAlarmTransport(alarm *AlarmConfig) error {
	switch alarm.Type {
	case AlarmTypeTelegram:
		if strings.TrimSpace(alarm.BotToken) == "" {
			return fmt.Errorf("alarm %q: bot_token is required for telegram", alarm.Name)
		}
		if strings.TrimSpace(alarm.ChatID) == "" {
			return fmt.Errorf("alarm %q: chat_id is required for telegram", alarm.Name)
		}
	default:
		if strings.TrimSpace(alarm.WebhookURL) == "" {
			return fmt.Errorf("alarm %q: webhook_url is required for %s", alarm.Name, alarm.Type)
		}
	}
	return nil
}

// LoadFilters reads one filters JSON document.
// Params: document path and recognized kind names.
// Returns: kind-keyed filter-name-keyed raw settings, or decode error;
// an unrecognized kind key rejects the document. Settings keys are
// validated later, at filter compilation.
func LoadFilters(path string, kinds []string) (map[string]map[string]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filters file: %w", err)
	}
	var doc map[string]map[string]map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode filters file %q: %w", path, err)
	}

	known := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		known[kind] = struct{}{}
	}
	for kind, filters := range doc {
		if _, ok := known[kind]; !ok {
			return nil, fmt.Errorf("filters file %q: unrecognized kind %q", path, kind)
		}
		for name := range filters {
			if strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("filters file %q: kind %q has a filter with empty name", path, kind)
			}
		}
	}
	return doc, nil
}

// LoadRules reads one rules JSON document.
// Params: document path and recognized kind names.
// Returns: kind-keyed rule lists ordered by rule name, or decode error;
// referenced filter and alarm names are validated later, at rule set
// construction.
func LoadRules(path string, kinds []string) (map[string][]RuleConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var doc map[string]map[string]RuleConfig
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rules file %q: %w", path, err)
	}

	known := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		known[kind] = struct{}{}
	}
	out := make(map[string][]RuleConfig, len(doc))
	for kind, rules := range doc {
		if _, ok := known[kind]; !ok {
			return nil, fmt.Errorf("rules file %q: unrecognized kind %q", path, kind)
		}
		names := make([]string, 0, len(rules))
		for name := range rules {
			names = append(names, name)
		}
		sort.Strings(names)
		ordered := make([]RuleConfig, 0, len(names))
		for _, name := range names {
			rule := rules[name]
			rule.Name = name
			ordered = append(ordered, rule)
		}
		out[kind] = ordered
	}
	return out, nil
}

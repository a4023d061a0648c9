package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalManager = `
[manager.berlin]
latitude = 52.52
longitude = 13.405
alarms_file = "alarms.json"
filters_file = "filters.json"
`

func TestLoadSnapshotAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.toml", minimalManager)
	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}

	if cfg.Service.Name != "pokealert" || cfg.Service.ShutdownGraceSec != 10 {
		t.Fatalf("unexpected service defaults %+v", cfg.Service)
	}
	if !cfg.Log.Console.Enabled || cfg.Log.Console.Level != "info" {
		t.Fatalf("console sink must default on at info, got %+v", cfg.Log.Console)
	}
	if !cfg.Ingest.HTTP.Enabled || cfg.Ingest.HTTP.Listen != ":4000" {
		t.Fatalf("http ingest must default on at :4000, got %+v", cfg.Ingest.HTTP)
	}
	if cfg.Ingest.NATS.DeliverGroup != "pokealert-workers" {
		t.Fatalf("deliver group must be fixed, got %q", cfg.Ingest.NATS.DeliverGroup)
	}
	if len(cfg.Manager) != 1 {
		t.Fatalf("expected one manager, got %d", len(cfg.Manager))
	}
	manager := cfg.Manager[0]
	if manager.Name != "berlin" {
		t.Fatalf("manager name must come from the table key, got %q", manager.Name)
	}
	if manager.Timezone != "UTC" || manager.Units != "metric" || manager.QueueSize != 500 {
		t.Fatalf("unexpected manager defaults %+v", manager)
	}
	if manager.Cache.Backend != CacheBackendMemory {
		t.Fatalf("cache backend must default to memory, got %q", manager.Cache.Backend)
	}
}

func TestLoadSnapshotRejectsNameInManagerBody(t *testing.T) {
	t.Parallel()

	body := `
[manager.berlin]
name = "renamed"
latitude = 52.52
longitude = 13.405
alarms_file = "alarms.json"
filters_file = "filters.json"
`
	path := writeConfig(t, t.TempDir(), "config.toml", body)
	if _, err := LoadSnapshot(ConfigSource{File: path}); err == nil || !strings.Contains(err.Error(), "name is not supported") {
		t.Fatalf("expected name-in-body rejection, got %v", err)
	}
}

func TestLoadSnapshotValidationFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"latitude out of range": `
[manager.a]
latitude = 95.0
longitude = 0.0
alarms_file = "alarms.json"
filters_file = "filters.json"
`,
		"bad units": `
[manager.a]
latitude = 0.0
longitude = 0.0
units = "nautical"
alarms_file = "alarms.json"
filters_file = "filters.json"
`,
		"bad timezone": `
[manager.a]
latitude = 0.0
longitude = 0.0
timezone = "Mars/Olympus"
alarms_file = "alarms.json"
filters_file = "filters.json"
`,
		"missing alarms file": `
[manager.a]
latitude = 0.0
longitude = 0.0
filters_file = "filters.json"
`,
		"persistent cache without path": `
[manager.a]
latitude = 0.0
longitude = 0.0
alarms_file = "alarms.json"
filters_file = "filters.json"
[manager.a.cache]
backend = "sqlite"
`,
		"no managers": `
[service]
name = "x"
`,
	}
	for name, body := range cases {
		path := writeConfig(t, t.TempDir(), "config.toml", body)
		if _, err := LoadSnapshot(ConfigSource{File: path}); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestRejectUnsupportedSyntax(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"legacy manager array": "[[manager]]\nlatitude = 1.0\n",
		"inline filters table": "[manager.a.filters.rare]\nmin_iv = 90\n",
		"inline rules table":   "[manager.a.rules.r1]\nfilters = []\n",
		"fixed deliver group":  "[ingest.nats]\ndeliver_group = \"mine\"\n",
	}
	for name, body := range cases {
		if err := rejectUnsupportedSyntax([]byte(body)); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
	if err := rejectUnsupportedSyntax([]byte(minimalManager)); err != nil {
		t.Fatalf("supported syntax rejected: %v", err)
	}
}

func TestLoadDirMergesFragmentsLexically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "10-service.toml", "[service]\nname = \"first\"\n")
	writeConfig(t, dir, "20-service.toml", "[service]\nname = \"second\"\n")
	writeConfig(t, dir, "30-manager.toml", minimalManager)
	writeConfig(t, dir, "ignored.txt", "not toml")

	cfg, err := LoadSnapshot(ConfigSource{Dir: dir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Service.Name != "second" {
		t.Fatalf("later fragment must win, got %q", cfg.Service.Name)
	}
	if len(cfg.Manager) != 1 || cfg.Manager[0].Name != "berlin" {
		t.Fatalf("manager fragment must merge, got %+v", cfg.Manager)
	}
}

func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without any source")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error with both sources")
	}
	source, err := FromCLI(" a.toml ", "")
	if err != nil || source.File != "a.toml" {
		t.Fatalf("expected trimmed file source, got %+v err=%v", source, err)
	}
}

func TestLoadAlarms(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "alarms.json", `[
		{"name": "tg", "type": "telegram", "bot_token": "123:abc", "chat_id": "-100"},
		{"name": "dc", "type": "discord", "webhook_url": "https://discord.test/hook", "max_attempts": 5}
	]`)

	alarms, err := LoadAlarms(path)
	if err != nil {
		t.Fatalf("load alarms: %v", err)
	}
	if len(alarms) != 2 {
		t.Fatalf("expected 2 alarms, got %d", len(alarms))
	}
	if alarms[0].MaxAttempts != 3 || alarms[0].BackoffSec != 3 {
		t.Fatalf("retry defaults must apply, got %+v", alarms[0])
	}
	if alarms[1].MaxAttempts != 5 {
		t.Fatalf("explicit max_attempts must survive, got %d", alarms[1].MaxAttempts)
	}
}

func TestLoadAlarmsRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown field":          `[{"name": "tg", "type": "telegram", "bot_token": "t", "chat_id": "c", "color": "red"}]`,
		"telegram without token": `[{"name": "tg", "type": "telegram", "chat_id": "c"}]`,
		"webhook without url":    `[{"name": "dc", "type": "discord"}]`,
		"duplicate names":        `[{"name": "a", "type": "http", "webhook_url": "u"}, {"name": "a", "type": "http", "webhook_url": "u"}]`,
		"unsupported type":       `[{"name": "a", "type": "pager", "webhook_url": "u"}]`,
		"empty document":         `[]`,
	}
	dir := t.TempDir()
	for name, body := range cases {
		path := writeConfig(t, dir, strings.ReplaceAll(name, " ", "-")+".json", body)
		if _, err := LoadAlarms(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFiltersRejectsUnrecognizedKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "filters.json", `{"dragon": {"rare": {"min_iv": 90}}}`)
	if _, err := LoadFilters(path, []string{"monster", "raid"}); err == nil || !strings.Contains(err.Error(), "dragon") {
		t.Fatalf("expected unrecognized kind error, got %v", err)
	}

	path = writeConfig(t, dir, "ok.json", `{"monster": {"rare": {"min_iv": 90}}}`)
	doc, err := LoadFilters(path, []string{"monster", "raid"})
	if err != nil {
		t.Fatalf("load filters: %v", err)
	}
	if _, ok := doc["monster"]["rare"]; !ok {
		t.Fatalf("expected rare filter settings, got %+v", doc)
	}
}

func TestLoadRulesOrdersByNameAndRejectsNameKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "rules.json", `{"monster": {
		"b-rule": {"filters": ["any"], "alarms": ["tg"]},
		"a-rule": {"filters": ["rare"], "alarms": ["dc"]}
	}}`)

	rules, err := LoadRules(path, []string{"monster"})
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	ordered := rules["monster"]
	if len(ordered) != 2 || ordered[0].Name != "a-rule" || ordered[1].Name != "b-rule" {
		t.Fatalf("rules must order by name, got %+v", ordered)
	}

	path = writeConfig(t, dir, "bad.json", `{"monster": {"r": {"name": "renamed", "filters": [], "alarms": []}}}`)
	if _, err := LoadRules(path, []string{"monster"}); err == nil {
		t.Fatalf("expected rejection of name key in rule body")
	}
}

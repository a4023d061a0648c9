package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Locale maps game identifiers to display names.
// Params: per-category id-to-name tables decoded from a locale JSON file.
// Returns: name lookups with the generic unknown fallback.
type Locale struct {
	Monsters   map[string]string `json:"monsters"`
	Moves      map[string]string `json:"moves"`
	Teams      map[string]string `json:"teams"`
	Weather    map[string]string `json:"weather"`
	GruntTypes map[string]string `json:"grunt_types"`
	Forms      map[string]string `json:"forms"`
}

// LoadLocale reads one locale table file.
// Params: path of a JSON file with id-to-name tables.
// Returns: decoded locale or read/decode error.
func LoadLocale(path string) (*Locale, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locale file: %w", err)
	}
	locale := &Locale{}
	if err := json.Unmarshal(raw, locale); err != nil {
		return nil, fmt.Errorf("decode locale file %s: %w", path, err)
	}
	return locale, nil
}

// EmptyLocale builds a locale with no tables.
// Params: none.
// Returns: locale where every lookup falls back to the unknown string.
func EmptyLocale() *Locale {
	return &Locale{}
}

// MonsterName resolves one species id to display name.
// Params: species id.
// Returns: localized name or the unknown string.
func (l *Locale) MonsterName(id int64) string {
	return l.nameFor(l.Monsters, id)
}

// MoveName resolves one move id to display name.
// Params: optional move id.
// Returns: localized name, or the unknown string when absent or unmapped.
func (l *Locale) MoveName(id Number) string {
	if !id.Known {
		return Unknown
	}
	return l.nameFor(l.Moves, id.Int())
}

// TeamName resolves one team id to display name.
// Params: team id.
// Returns: localized name or the unknown string.
func (l *Locale) TeamName(id int64) string {
	return l.nameFor(l.Teams, id)
}

// WeatherName resolves one weather condition id to display name.
// Params: weather condition id.
// Returns: localized name or the unknown string.
func (l *Locale) WeatherName(id int64) string {
	return l.nameFor(l.Weather, id)
}

// GruntName resolves one invasion grunt type to display name.
// Params: grunt type id.
// Returns: localized name or the unknown string.
func (l *Locale) GruntName(id int64) string {
	return l.nameFor(l.GruntTypes, id)
}

// FormName resolves one monster form id to display name.
// Params: optional form id.
// Returns: localized name, or the unknown string when absent or unmapped.
func (l *Locale) FormName(id Number) string {
	if !id.Known {
		return Unknown
	}
	return l.nameFor(l.Forms, id.Int())
}

// nameFor resolves one id inside one table.
// Params: table (possibly nil) and id.
// Returns: mapped name or the unknown string.
func (l *Locale) nameFor(table map[string]string, id int64) string {
	if table == nil {
		return Unknown
	}
	name, ok := table[strconv.FormatInt(id, 10)]
	if !ok || name == "" {
		return Unknown
	}
	return name
}

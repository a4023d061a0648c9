package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rawPayload reads loosely-typed webhook message fields.
// Params: string-keyed mapping decoded from JSON.
// Returns: coercing accessors with explicit missing detection.
type rawPayload map[string]any

// lookup finds the first present, non-nil key among aliases.
// Params: candidate key names in priority order.
// Returns: raw value and presence flag.
func (p rawPayload) lookup(keys ...string) (any, bool) {
	for _, key := range keys {
		value, ok := p[key]
		if ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

// requireFloat reads one mandatory numeric field.
// Params: candidate key names in priority order.
// Returns: coerced value or validation error naming the first key.
func (p rawPayload) requireFloat(keys ...string) (float64, error) {
	value, ok := p.lookup(keys...)
	if !ok {
		return 0, fmt.Errorf("required field %q is missing", keys[0])
	}
	parsed, err := coerceFloat(value)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", keys[0], err)
	}
	return parsed, nil
}

// requireInt reads one mandatory integer field.
// Params: candidate key names in priority order.
// Returns: coerced value or validation error naming the first key.
func (p rawPayload) requireInt(keys ...string) (int64, error) {
	parsed, err := p.requireFloat(keys...)
	if err != nil {
		return 0, err
	}
	return int64(parsed), nil
}

// requireString reads one mandatory non-empty string field.
// Params: candidate key names in priority order.
// Returns: trimmed value or validation error naming the first key.
func (p rawPayload) requireString(keys ...string) (string, error) {
	value, ok := p.lookup(keys...)
	if !ok {
		return "", fmt.Errorf("required field %q is missing", keys[0])
	}
	text := strings.TrimSpace(coerceString(value))
	if text == "" {
		return "", fmt.Errorf("required field %q is empty", keys[0])
	}
	return text, nil
}

// requireTime reads one mandatory epoch-seconds timestamp field.
// Params: candidate key names in priority order.
// Returns: UTC time or validation error naming the first key.
func (p rawPayload) requireTime(keys ...string) (time.Time, error) {
	seconds, err := p.requireFloat(keys...)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(seconds), 0).UTC(), nil
}

// optionalNumber reads one optional numeric field.
// Params: candidate key names in priority order.
// Returns: present Number or the unknown sentinel (unparseable values
// also count as unknown, never as zero).
func (p rawPayload) optionalNumber(keys ...string) Number {
	value, ok := p.lookup(keys...)
	if !ok {
		return Number{}
	}
	parsed, err := coerceFloat(value)
	if err != nil {
		return Number{}
	}
	return Num(parsed)
}

// optionalString reads one optional string field.
// Params: candidate key names and fallback for absent/empty values.
// Returns: trimmed value or fallback.
func (p rawPayload) optionalString(key, fallback string) string {
	value, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	text := strings.TrimSpace(coerceString(value))
	if text == "" {
		return fallback
	}
	return text
}

// optionalTime reads one optional epoch-seconds timestamp field.
// Params: candidate key names in priority order.
// Returns: UTC time and presence flag.
func (p rawPayload) optionalTime(keys ...string) (time.Time, bool) {
	number := p.optionalNumber(keys...)
	if !number.Known || number.Value <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(number.Value), 0).UTC(), true
}

// coerceFloat converts loose JSON scalars into float64.
// Params: raw value (float64/int/string/bool from JSON decode).
// Returns: numeric value or conversion error.
func coerceFloat(value any) (float64, error) {
	switch typed := value.(type) {
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", typed)
		}
		return parsed, nil
	case bool:
		if typed {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value type %T is not numeric", value)
	}
}

// coerceString converts loose JSON scalars into string.
// Params: raw value from JSON decode.
// Returns: string representation.
func coerceString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

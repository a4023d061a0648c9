package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// settingFloat coerces one filter setting into float64.
// Params: setting key (for diagnostics) and raw JSON value.
// Returns: numeric value or type error.
func settingFloat(key string, value any) (float64, error) {
	switch typed := value.(type) {
	case float64:
		return typed, nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, fmt.Errorf("setting %q: value %q is not numeric", key, typed)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("setting %q: expected number, got %T", key, value)
	}
}

// settingBool coerces one filter setting into bool.
// Params: setting key (for diagnostics) and raw JSON value.
// Returns: boolean value or type error.
func settingBool(key string, value any) (bool, error) {
	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return false, fmt.Errorf("setting %q: value %q is not boolean", key, typed)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("setting %q: expected boolean, got %T", key, value)
	}
}

// settingIDSet coerces one filter setting into a numeric id set.
// Params: setting key (for diagnostics) and raw JSON value.
// Returns: id membership set or type error; accepts a list of numbers
// or numeric strings.
func settingIDSet(key string, value any) (map[int64]struct{}, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("setting %q: expected list of ids, got %T", key, value)
	}
	set := make(map[int64]struct{}, len(list))
	for _, item := range list {
		parsed, err := settingFloat(key, item)
		if err != nil {
			return nil, err
		}
		set[int64(parsed)] = struct{}{}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("setting %q: id list must not be empty", key)
	}
	return set, nil
}

// settingStringList coerces one filter setting into a string slice.
// Params: setting key (for diagnostics) and raw JSON value.
// Returns: non-empty string slice or type error.
func settingStringList(key string, value any) ([]string, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("setting %q: expected list of strings, got %T", key, value)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		text, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("setting %q: expected string, got %T", key, item)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("setting %q: empty string entry", key)
		}
		out = append(out, text)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("setting %q: list must not be empty", key)
	}
	return out, nil
}

// settingRegex coerces one filter setting into a compiled pattern.
// Params: setting key (for diagnostics) and raw JSON value.
// Returns: case-insensitive compiled regexp or compile error; the
// pattern compiles exactly once, at filter construction.
func settingRegex(key string, value any) (*regexp.Regexp, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("setting %q: expected pattern string, got %T", key, value)
	}
	compiled, err := regexp.Compile("(?i)" + text)
	if err != nil {
		return nil, fmt.Errorf("setting %q: bad pattern %q: %w", key, text, err)
	}
	return compiled, nil
}

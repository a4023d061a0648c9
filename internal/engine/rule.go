package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"pokealert/internal/domain"
)

// Rule binds ordered filter names to alarm names for one event kind.
// Params: rule name, filter names in evaluation order, and alarm names.
// Returns: dispatch unit; the first passing filter fires every alarm.
type Rule struct {
	Name    string
	Filters []string
	Alarms  []string
}

// Dispatch is one alarm fan-out decision produced by rule evaluation.
// Params: originating rule and filter names plus target alarm names.
// Returns: unit of work handed to the notify layer.
type Dispatch struct {
	RuleName   string
	FilterName string
	Alarms     []string
}

// RuleSet holds the compiled filters and rules of one manager.
// Params: per-kind filter registries, per-kind rule lists, and the full
// alarm name list used for synthetic default rules.
// Returns: per-event dispatch decisions.
type RuleSet struct {
	filters    map[domain.Kind]map[string]*Filter
	rules      map[domain.Kind][]Rule
	alarmNames []string
	logger     *slog.Logger
}

// NewRuleSet validates rules against filters and alarms.
// Params: compiled filters per kind, configured rules per kind, alarm
// names, and logger for rejection diagnostics.
// Returns: ready rule set, or error when a rule references a filter or
// alarm name that does not exist, or is empty.
func NewRuleSet(
	filters map[domain.Kind]map[string]*Filter,
	rules map[domain.Kind][]Rule,
	alarmNames []string,
	logger *slog.Logger,
) (*RuleSet, error) {
	known := make(map[string]struct{}, len(alarmNames))
	for _, name := range alarmNames {
		known[name] = struct{}{}
	}
	for kind, kindRules := range rules {
		seen := make(map[string]struct{}, len(kindRules))
		for _, rule := range kindRules {
			if rule.Name == "" {
				return nil, fmt.Errorf("kind %q: rule with empty name", kind)
			}
			if _, dup := seen[rule.Name]; dup {
				return nil, fmt.Errorf("kind %q: duplicate rule name %q", kind, rule.Name)
			}
			seen[rule.Name] = struct{}{}
			if len(rule.Filters) == 0 {
				return nil, fmt.Errorf("rule %q: no filters listed", rule.Name)
			}
			if len(rule.Alarms) == 0 {
				return nil, fmt.Errorf("rule %q: no alarms listed", rule.Name)
			}
			for _, filterName := range rule.Filters {
				if _, ok := filters[kind][filterName]; !ok {
					return nil, fmt.Errorf("rule %q: filter %q is not defined for kind %q", rule.Name, filterName, kind)
				}
			}
			for _, alarmName := range rule.Alarms {
				if _, ok := known[alarmName]; !ok {
					return nil, fmt.Errorf("rule %q: alarm %q is not defined", rule.Name, alarmName)
				}
			}
		}
	}
	return &RuleSet{
		filters:    filters,
		rules:      rules,
		alarmNames: alarmNames,
		logger:     logger,
	}, nil
}

// Evaluate walks every rule for the event's kind.
// Params: event and evaluation time.
// Returns: dispatches in rule order. Within a rule, filters run in
// listed order and the first passing one wins; later rules still run,
// so one event can fire through several rules.
func (r *RuleSet) Evaluate(event *domain.Event, now time.Time) []Dispatch {
	var dispatches []Dispatch
	for _, rule := range r.rulesFor(event.Kind) {
		for _, filterName := range rule.Filters {
			filter := r.filters[event.Kind][filterName]
			if filter == nil {
				continue
			}
			passed, reason := filter.Check(event, now)
			if passed {
				dispatches = append(dispatches, Dispatch{
					RuleName:   rule.Name,
					FilterName: filterName,
					Alarms:     rule.Alarms,
				})
				break
			}
			r.logger.Debug("filter rejected event",
				slog.String("rule", rule.Name),
				slog.String("filter", filterName),
				slog.String("kind", string(event.Kind)),
				slog.String("id", event.ID),
				slog.String("reason", reason))
		}
	}
	return dispatches
}

// rulesFor returns the effective rules for one kind.
// Params: event kind.
// Returns: configured rules, or one synthetic default rule spanning
// every filter of the kind and every alarm when none are configured.
func (r *RuleSet) rulesFor(kind domain.Kind) []Rule {
	if rules := r.rules[kind]; len(rules) > 0 {
		return rules
	}
	kindFilters := r.filters[kind]
	if len(kindFilters) == 0 {
		return nil
	}
	filterNames := make([]string, 0, len(kindFilters))
	for name := range kindFilters {
		filterNames = append(filterNames, name)
	}
	sort.Strings(filterNames)
	return []Rule{{
		Name:    "default",
		Filters: filterNames,
		Alarms:  r.alarmNames,
	}}
}

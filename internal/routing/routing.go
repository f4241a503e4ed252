// Package routing maps categories to Slack channels and owning managers.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"forumscout/internal/domain"
)

// DefaultRouteKey names the route used for categories without their own entry.
const DefaultRouteKey = "default"

// Route is one routing table entry as written in configuration.
type Route struct {
	Channel string   `yaml:"channel"`
	Owners  []string `yaml:"owners"`
}

// Manager describes a person owners can refer to by id.
type Manager struct {
	Name      string   `yaml:"name"`
	Slack     string   `yaml:"slack"`
	Expertise []string `yaml:"expertise"`
}

// ConfigurationError is returned at startup when the table is not total.
type ConfigurationError struct {
	Missing []domain.Category
	Unknown []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, c := range e.Missing {
			names[i] = string(c)
		}
		parts = append(parts, "no channel for categories: "+strings.Join(names, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown route keys: "+strings.Join(e.Unknown, ", "))
	}
	return "routing table: " + strings.Join(parts, "; ")
}

// Router is an immutable, total category -> destination table.
type Router struct {
	table map[domain.Category]domain.RoutingDecision
}

// NewRouter resolves the configured routes into a total table. A category
// without an entry inherits the "default" route, then defaultChannel.
// Owners follow the same order and end at the full manager list.
func NewRouter(routes map[string]Route, managers map[string]Manager, defaultChannel string) (*Router, error) {
	normalized := make(map[string]Route, len(routes))
	var unknown []string
	for key, r := range routes {
		k := NormalizeKey(key)
		if k != DefaultRouteKey {
			if _, ok := domain.ParseCategory(k); !ok {
				unknown = append(unknown, key)
				continue
			}
		}
		normalized[k] = r
	}
	sort.Strings(unknown)

	fallback := normalized[DefaultRouteKey]
	if strings.TrimSpace(fallback.Channel) == "" {
		fallback.Channel = defaultChannel
	}

	mgrs := make(map[string]Manager, len(managers))
	for id, m := range managers {
		mgrs[managerKey(id)] = m
	}

	// Categories nobody owns tag every configured manager.
	allManagers := make([]string, 0, len(mgrs))
	for id := range mgrs {
		allManagers = append(allManagers, id)
	}
	sort.Strings(allManagers)

	table := make(map[domain.Category]domain.RoutingDecision, len(domain.AllCategories()))
	var missing []domain.Category
	for _, c := range domain.AllCategories() {
		r, ok := normalized[string(c)]
		channel := strings.TrimSpace(r.Channel)
		owners := r.Owners
		if !ok || channel == "" {
			channel = strings.TrimSpace(fallback.Channel)
		}
		if len(owners) == 0 {
			owners = fallback.Owners
		}
		if len(owners) == 0 {
			owners = allManagers
		}
		if channel == "" {
			missing = append(missing, c)
			continue
		}
		table[c] = domain.RoutingDecision{
			Category: c,
			Channel:  channel,
			Owners:   resolveOwners(owners, mgrs),
		}
	}

	if len(missing) > 0 || len(unknown) > 0 {
		return nil, &ConfigurationError{Missing: missing, Unknown: unknown}
	}
	return &Router{table: table}, nil
}

// Route returns the destination for result's category. Categories outside
// the fixed set cannot reach here; they are rejected upstream.
func (r *Router) Route(result domain.CategorizationResult) domain.RoutingDecision {
	d, ok := r.table[result.Category]
	if !ok {
		d = r.table[domain.CatchAllCategory]
	}
	if len(d.Owners) > 0 {
		owners := make([]string, len(d.Owners))
		copy(owners, d.Owners)
		d.Owners = owners
	}
	return d
}

// NormalizeKey turns CHANNEL_/CATEGORY_ style names into category ids.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "-")
}

func resolveOwners(ids []string, managers map[string]Manager) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		handle := resolveOwner(id, managers)
		if handle == "" || seen[handle] {
			continue
		}
		seen[handle] = true
		out = append(out, handle)
	}
	return out
}

func resolveOwner(id string, managers map[string]Manager) string {
	key := managerKey(id)
	if key == "" {
		return ""
	}
	if m, ok := managers[key]; ok && strings.TrimSpace(m.Slack) != "" {
		return CleanHandle(m.Slack)
	}
	if IsLikelySlackID(strings.TrimSpace(id)) {
		return strings.TrimSpace(id)
	}
	return CleanHandle(key)
}

func managerKey(id string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "manager_")
}

// CleanHandle strips spaces and makes sure handles start with "@". Slack
// user ids are returned unchanged.
func CleanHandle(handle string) string {
	h := strings.ReplaceAll(strings.TrimSpace(handle), " ", "")
	if h == "" || IsLikelySlackID(h) {
		return h
	}
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return h
}

// IsLikelySlackID reports whether val looks like a Slack user id (U/W + upper alnum).
func IsLikelySlackID(val string) bool {
	if len(val) < 9 {
		return false
	}
	for i, r := range val {
		if i == 0 {
			if r != 'U' && r != 'W' {
				return false
			}
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Describe renders a table summary for startup logs.
func (r *Router) Describe() string {
	var lines []string
	for _, c := range domain.AllCategories() {
		d := r.table[c]
		lines = append(lines, fmt.Sprintf("%s->%s(%d owners)", c, d.Channel, len(d.Owners)))
	}
	return strings.Join(lines, " ")
}

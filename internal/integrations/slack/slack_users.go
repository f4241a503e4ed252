package slackbot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"forumscout/internal/routing"
)

const userCacheTTL = 5 * time.Minute

type userLister interface {
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
}

// UserDirectory maps owner handles such as "@bob" to Slack user ids so
// notifications can mention them. The workspace user list is cached.
type UserDirectory struct {
	api    userLister
	logger *zap.Logger

	mu        sync.Mutex
	users     []slack.User
	fetchedAt time.Time
	now       func() time.Time
}

func NewUserDirectory(api userLister, logger *zap.Logger) *UserDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserDirectory{api: api, logger: logger, now: time.Now}
}

func (d *UserDirectory) cachedUsers(ctx context.Context) ([]slack.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.fetchedAt.IsZero() && d.now().Sub(d.fetchedAt) < userCacheTTL {
		return d.users, nil
	}
	users, err := d.api.GetUsersContext(ctx)
	if err != nil {
		return nil, err
	}
	d.users = users
	d.fetchedAt = d.now()
	return users, nil
}

// Mentions renders owners for a message. Slack ids and handles found in the
// directory become <@ID>; anything else is kept as written.
func (d *UserDirectory) Mentions(ctx context.Context, owners []string) []string {
	var out []string
	var names []string
	for _, raw := range uniqueStrings(owners) {
		val := strings.TrimSpace(raw)
		if routing.IsLikelySlackID(val) {
			continue
		}
		names = append(names, val)
	}

	nameToID := map[string]string{}
	if len(names) > 0 && d != nil && d.api != nil {
		users, err := d.cachedUsers(ctx)
		if err != nil {
			d.logger.Warn("slack user lookup failed", zap.Error(err))
		}
		for _, user := range users {
			addName := func(n string) {
				n = strings.ToLower(strings.TrimSpace(n))
				if n == "" {
					return
				}
				if _, exists := nameToID[n]; !exists {
					nameToID[n] = user.ID
				}
			}
			addName(user.Name)
			addName(user.RealName)
			addName(user.Profile.DisplayName)
		}
	}

	unresolved := 0
	for _, raw := range uniqueStrings(owners) {
		val := strings.TrimSpace(raw)
		if routing.IsLikelySlackID(val) {
			out = append(out, "<@"+val+">")
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(val, "@"))
		if id, ok := nameToID[key]; ok {
			out = append(out, "<@"+id+">")
			continue
		}
		unresolved++
		out = append(out, val)
	}
	if unresolved > 0 {
		d.logDebug("owners left unresolved", zap.Int("count", unresolved))
	}
	return uniqueStrings(out)
}

func (d *UserDirectory) logDebug(msg string, fields ...zap.Field) {
	if d != nil {
		d.logger.Debug(msg, fields...)
	}
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

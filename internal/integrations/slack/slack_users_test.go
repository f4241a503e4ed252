package slackbot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	calls int
	users []slack.User
	err   error
}

func (f *fakeLister) GetUsersContext(context.Context, ...slack.GetUsersOption) ([]slack.User, error) {
	f.calls++
	return f.users, f.err
}

func TestMentionsResolvesHandles(t *testing.T) {
	lister := &fakeLister{users: []slack.User{
		{ID: "U0BOB00001", Name: "bob"},
		{ID: "U0CAROL001", Name: "cwhite", RealName: "Carol White", Profile: slack.UserProfile{DisplayName: "carol"}},
	}}
	dir := NewUserDirectory(lister, nil)

	got := dir.Mentions(context.Background(), []string{"@bob", "U0123ABCD9", "@carol", "@dave", "@bob", " "})
	assert.Equal(t, []string{"<@U0BOB00001>", "<@U0123ABCD9>", "<@U0CAROL001>", "@dave"}, got)

	dir.Mentions(context.Background(), []string{"@bob"})
	assert.Equal(t, 1, lister.calls)
}

func TestMentionsCacheExpires(t *testing.T) {
	lister := &fakeLister{}
	dir := NewUserDirectory(lister, nil)
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return clock }

	dir.Mentions(context.Background(), []string{"@bob"})
	lister.users = []slack.User{{ID: "U0BOB00001", Name: "bob"}}
	dir.Mentions(context.Background(), []string{"@bob"})
	assert.Equal(t, 1, lister.calls)

	clock = clock.Add(userCacheTTL + time.Second)
	got := dir.Mentions(context.Background(), []string{"@bob"})
	assert.Equal(t, 2, lister.calls)
	assert.Equal(t, []string{"<@U0BOB00001>"}, got)
}

func TestMentionsWithoutDirectory(t *testing.T) {
	var dir *UserDirectory
	got := dir.Mentions(context.Background(), []string{"U0123ABCD9", "@bob"})
	assert.Equal(t, []string{"<@U0123ABCD9>", "@bob"}, got)
}

func TestMentionsLookupFailureKeepsHandles(t *testing.T) {
	dir := NewUserDirectory(&fakeLister{err: errors.New("missing_scope")}, nil)
	got := dir.Mentions(context.Background(), []string{"@bob"})
	assert.Equal(t, []string{"@bob"}, got)
}

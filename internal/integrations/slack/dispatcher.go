// Package slackbot posts categorized forum questions to Slack channels.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"forumscout/internal/domain"
	"forumscout/internal/metrics"
)

const (
	DefaultMaxQuestions = 10
	reportTitle         = "AEM Forms Unanswered Questions Report"
)

// Poster is the part of *slack.Client the dispatcher uses.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// NewClient builds a Slack API client. apiURL is only set in tests.
func NewClient(token, apiURL string) *slack.Client {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return slack.New(token, opts...)
}

type Dispatcher struct {
	poster       Poster
	users        *UserDirectory
	maxQuestions int
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewDispatcher wires a dispatcher. users may be nil, in which case owner
// handles are printed without lookup.
func NewDispatcher(poster Poster, users *UserDirectory, maxQuestions int, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		poster:       poster,
		users:        users,
		maxQuestions: maxQuestions,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// Delivery is the outcome for one channel. QuestionIDs lists only the
// questions that made it into the message.
type Delivery struct {
	Channel     string
	QuestionIDs []string
	Timestamp   string
	Err         error
}

// Dispatch posts one message per routed channel, in the order channels
// first appear in questions. Every channel is attempted; the returned
// error joins the failures.
func (d *Dispatcher) Dispatch(ctx context.Context, since time.Time, questions []domain.CategorizedQuestion) ([]Delivery, error) {
	groups := GroupByChannel(questions)
	deliveries := make([]Delivery, 0, len(groups))
	var errs []error

	for _, g := range groups {
		owners := make(map[string][]string, len(g.Questions))
		for _, cq := range g.Questions {
			owners[cq.Question.ID] = d.users.Mentions(ctx, cq.Routing.Owners)
		}
		blocks := BuildBlocks(g.Channel, g.Questions, owners, since, d.now(), d.maxQuestions)
		text := fmt.Sprintf("%s - Found %d questions since %s", reportTitle, len(g.Questions), since.Format("2006-01-02"))

		_, ts, err := d.poster.PostMessageContext(ctx, g.Channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionBlocks(blocks...),
		)
		delivery := Delivery{Channel: g.Channel, Timestamp: ts, Err: err}
		for _, cq := range g.Questions[:shownCount(len(g.Questions), d.maxQuestions)] {
			delivery.QuestionIDs = append(delivery.QuestionIDs, cq.Question.ID)
		}
		deliveries = append(deliveries, delivery)
		d.metrics.ObserveNotification(err == nil)

		if err != nil {
			d.logger.Error("slack post failed", zap.String("channel", g.Channel), zap.Error(err))
			errs = append(errs, fmt.Errorf("post to %s: %w", g.Channel, err))
			continue
		}
		d.logger.Info("slack notification sent",
			zap.String("channel", g.Channel),
			zap.Int("questions", len(g.Questions)),
			zap.String("ts", ts))
	}
	return deliveries, errors.Join(errs...)
}

// ChannelGroup is the set of questions routed to one channel.
type ChannelGroup struct {
	Channel   string
	Questions []domain.CategorizedQuestion
}

// GroupByChannel keeps first-appearance order for channels and questions.
func GroupByChannel(questions []domain.CategorizedQuestion) []ChannelGroup {
	var groups []ChannelGroup
	index := map[string]int{}
	for _, cq := range questions {
		ch := strings.TrimSpace(cq.Routing.Channel)
		if ch == "" {
			continue
		}
		i, ok := index[ch]
		if !ok {
			i = len(groups)
			index[ch] = i
			groups = append(groups, ChannelGroup{Channel: ch})
		}
		groups[i].Questions = append(groups[i].Questions, cq)
	}
	return groups
}

// BuildBlocks renders the Block Kit message for one channel.
func BuildBlocks(channel string, questions []domain.CategorizedQuestion, mentions map[string][]string, since, generatedAt time.Time, maxQuestions int) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, reportTitle, true, false)),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			slack.NewTextBlockObject(slack.MarkdownType, "*Report generated:* "+generatedAt.Format("2006-01-02 15:04:05"), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, "*Questions since:* "+since.Format("2006-01-02"), false, false),
		}, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("Found *%d* unanswered questions for %s.", len(questions), channelLabel(channel)), false, false), nil, nil),
		slack.NewDividerBlock(),
	}

	if len(questions) == 0 {
		return append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			"No unanswered questions found in the specified time period.", false, false), nil, nil))
	}

	shown := shownCount(len(questions), maxQuestions)
	for i, cq := range questions[:shown] {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, questionText(cq, mentions[cq.Question.ID]), false, false),
			nil, nil,
		))
		if i < shown-1 {
			blocks = append(blocks, slack.NewDividerBlock())
		}
	}
	if len(questions) > shown {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("_Showing %d of %d questions. See the JSON report for the complete list._", shown, len(questions)),
				false, false),
		))
	}
	return blocks
}

// shownCount is how many of n questions fit in one message.
func shownCount(n, maxQuestions int) int {
	if maxQuestions > 0 && n > maxQuestions {
		return maxQuestions
	}
	return n
}

func questionText(cq domain.CategorizedQuestion, mentions []string) string {
	q := cq.Question
	title := escape(q.Title)
	if title == "" {
		title = "Untitled Question"
	}
	var sb strings.Builder
	if q.URL != "" {
		fmt.Fprintf(&sb, "*<%s|%s>*\n", q.URL, title)
	} else {
		fmt.Fprintf(&sb, "*%s*\n", title)
	}
	date := "Unknown Date"
	if !q.PublishedAt.IsZero() {
		date = q.PublishedAt.Format("2006-01-02")
	}
	fmt.Fprintf(&sb, "By: %s on %s\n", escape(q.Author), date)
	fmt.Fprintf(&sb, "Category: `%s` (%.2f, %s)", cq.Result.Category, cq.Result.Confidence, sourceLabel(cq.Result.Source))
	if len(mentions) > 0 {
		fmt.Fprintf(&sb, " | Owners: %s", strings.Join(mentions, " "))
	}
	fmt.Fprintf(&sb, "\nID: %s", escape(q.ID))
	return sb.String()
}

func sourceLabel(s domain.Source) string {
	if s == domain.SourceAI {
		return "AI"
	}
	return "rules"
}

func channelLabel(channel string) string {
	if strings.HasPrefix(channel, "#") || isChannelID(channel) {
		return channel
	}
	return "#" + channel
}

// isChannelID matches ids like C024BE91L or G01ABCDEF.
func isChannelID(val string) bool {
	if len(val) < 9 || (val[0] != 'C' && val[0] != 'G') {
		return false
	}
	for _, r := range val[1:] {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return mrkdwnEscaper.Replace(s)
}

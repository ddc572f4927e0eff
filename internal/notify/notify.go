// Package notify posts batch outcome summaries to a Slack channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
)

// Poster abstracts the Slack API client for testing.
type Poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

type message struct {
	fallback string
	blocks   []slack.Block
}

// Notifier is an orchestrator observer that posts summaries off the batch
// path. Messages queue in a bounded buffer drained by Run; when the buffer
// is full the message is dropped.
type Notifier struct {
	api     Poster
	channel string
	queue   chan message
	logger  zerolog.Logger
}

var _ orchestrator.Observer = (*Notifier)(nil)

// NewSlack builds a Notifier backed by a real Slack client.
func NewSlack(token, channel string, logger zerolog.Logger) *Notifier {
	return New(slack.New(token), channel, logger)
}

// New creates a Notifier posting through api.
func New(api Poster, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:     api,
		channel: channel,
		queue:   make(chan message, 64),
		logger:  logger.With().Str("component", "notify").Str("channel", channel).Logger(),
	}
}

// Run posts queued messages until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-n.queue:
			n.post(m)
		}
	}
}

func (n *Notifier) post(m message) {
	_, ts, err := n.api.PostMessage(
		n.channel,
		slack.MsgOptionText(m.fallback, false),
		slack.MsgOptionBlocks(m.blocks...),
	)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to post outcome summary")
		return
	}
	n.logger.Debug().Str("ts", ts).Msg("outcome summary posted")
}

func (n *Notifier) enqueue(m message) {
	select {
	case n.queue <- m:
	default:
		n.logger.Warn().Msg("notification queue full, dropping message")
	}
}

// ActionFinished is a no-op; outcomes are summarized per batch.
func (n *Notifier) ActionFinished(context.Context, string, orchestrator.Outcome) {}

// BatchFinished queues a summary of every outcome in the report.
func (n *Notifier) BatchFinished(_ context.Context, r orchestrator.Report) {
	if len(r.Outcomes) == 0 && r.Question == nil {
		return
	}
	n.enqueue(message{fallback: Summary(r), blocks: BuildReportBlocks(r)})
}

// UndoFinished queues a one-line note for undos that changed the graph.
func (n *Notifier) UndoFinished(_ context.Context, turnID string, index int, res ledger.UndoResult, _ error) {
	if res.AlreadyUndone || !res.Entry.Undone {
		return
	}
	text := fmt.Sprintf(":leftwards_arrow_with_hook: Undid action %d of turn `%s`: %s", index, turnID, res.Entry.Delta.Describe())
	n.enqueue(message{
		fallback: text,
		blocks: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
		},
	})
}

// Summary is a one-line plain-text description of a report.
func Summary(r orchestrator.Report) string {
	return fmt.Sprintf("Turn %s %s: %d of %d actions applied", r.TurnID, r.Status, r.Applied(), len(r.Outcomes))
}

// BuildReportBlocks renders a report as Block Kit blocks.
func BuildReportBlocks(r orchestrator.Report) []slack.Block {
	var lines []string
	for _, o := range r.Outcomes {
		lines = append(lines, fmt.Sprintf("%s *%d. %s* %s", statusEmoji(o.Status), o.Index+1, o.Type, truncate(outcomeText(o), 140)))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "*"+Summary(r)+"*", false, false),
			nil, nil,
		),
	}
	if len(lines) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", strings.Join(lines, "\n"), false, false),
			nil, nil,
		))
	}
	if r.Question != nil {
		q := ":question: " + r.Question.Question
		if len(r.Question.Options) > 0 {
			q += "\nOptions: " + strings.Join(r.Question.Options, ", ")
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", q, false, false),
			nil, nil,
		))
	}
	if r.Fault != "" || r.PersistError != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", truncate(strings.TrimSpace(r.Fault+" "+r.PersistError), 200), false, false),
		))
	}
	return blocks
}

func outcomeText(o orchestrator.Outcome) string {
	if o.Error != "" {
		return o.Error
	}
	if o.Detail != "" {
		return o.Label + ": " + o.Detail
	}
	return o.Label
}

func statusEmoji(s orchestrator.OutcomeStatus) string {
	switch s {
	case orchestrator.OutcomeApplied, orchestrator.OutcomeAnswered:
		return ":white_check_mark:"
	case orchestrator.OutcomeUnchanged:
		return ":heavy_minus_sign:"
	case orchestrator.OutcomeQuestion:
		return ":question:"
	case orchestrator.OutcomeInvalid, orchestrator.OutcomeFailed:
		return ":x:"
	}
	return ":white_circle:"
}

// truncate shortens s to max chars, appending "…" if truncated.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}

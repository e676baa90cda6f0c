// Package telegram sends run notifications via the Telegram Bot API.
// It formats collection and calibration summaries into MarkdownV2 messages and
// handles delivery with retry logic for reliability.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/polycalib/internal/calibration"
	"github.com/rewired-gh/polycalib/internal/collector"
	"github.com/rewired-gh/polycalib/internal/dataset"
)

// sender is the part of tgbotapi.BotAPI the client uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendCollection reports a finished collection run
func (c *Client) SendCollection(ctx context.Context, res *collector.Result, ds dataset.Summary, discarded dataset.DiscardTally) error {
	return c.send(ctx, formatCollection(res, ds, discarded))
}

// SendCalibration reports the headline numbers of a calibration analysis
func (c *Client) SendCalibration(ctx context.Context, report *calibration.Report) error {
	return c.send(ctx, formatCalibration(report))
}

// SendError reports a run that failed
func (c *Client) SendError(ctx context.Context, stage string, err error) error {
	message := fmt.Sprintf("⚠️ *polycalib %s failed*\n\n`%s`", escapeMarkdownV2(stage), escapeMarkdownV2(err.Error()))
	return c.send(ctx, message)
}

func (c *Client) send(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatCollection formats a collection run into a Telegram message
func formatCollection(res *collector.Result, ds dataset.Summary, discarded dataset.DiscardTally) string {
	var b strings.Builder
	title := "Collection finished"
	if res.Interrupted {
		title = "Collection interrupted"
	}
	fmt.Fprintf(&b, "📦 *%s*\n\n", escapeMarkdownV2(title))

	st := res.Stats
	fmt.Fprintf(&b, "Strategy: %s\n", escapeMarkdownV2(res.Strategy))
	fmt.Fprintf(&b, "Markets: %d selected, %d processed, %d resumed, %d failed\n",
		st.Selected, st.Processed, st.Resumed, st.Failed)
	fmt.Fprintf(&b, "With trades: %d, sampled: %d\n", st.WithTrades, st.Sampled)
	fmt.Fprintf(&b, "Dataset: *%d* trades across *%d* markets\n", ds.Trades, ds.Markets)
	if ds.Trades > 0 {
		fmt.Fprintf(&b, "Range: %s \\- %s\n",
			escapeMarkdownV2(ds.First.Format("2006-01-02")), escapeMarkdownV2(ds.Last.Format("2006-01-02")))
	}
	if total := discarded.Total(); total > 0 {
		fmt.Fprintf(&b, "Discarded: %d rows\n", total)
		for _, reason := range discarded.Reasons() {
			fmt.Fprintf(&b, "   %s: %d\n", escapeMarkdownV2(reason), discarded[reason])
		}
	}
	fmt.Fprintf(&b, "⏱ Took: %s\n", escapeMarkdownV2(formatDuration(res.Duration)))
	return b.String()
}

// formatCalibration formats each stratum's error summary
func formatCalibration(report *calibration.Report) string {
	var b strings.Builder
	b.WriteString("🎯 *Calibration report*\n\n")
	fmt.Fprintf(&b, "%d trades, stratified by %s\n\n", report.Trades, escapeMarkdownV2(report.Config.Stratify))

	for _, s := range report.Strata {
		fmt.Fprintf(&b, "*%s* \\(%d trades, %d markets\\)\n", escapeMarkdownV2(s.Name), s.Trades, s.Markets)
		for _, c := range []*calibration.Curve{s.Unweighted, s.Weighted} {
			if c == nil {
				continue
			}
			view := "unweighted"
			if c.Weighted {
				view = "weighted"
			}
			line := fmt.Sprintf("%s: MACE %.2f¢, mean %+.2f¢, %s", view, c.MACECents, c.MeanDeviationCents, c.Verdict)
			fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(line))
		}
		if n := len(s.Insufficient); n > 0 {
			fmt.Fprintf(&b, "   %d buckets with insufficient data\n", n)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh%dm", hours, int(d.Minutes())%60)
	}
	if mins := int(d.Minutes()); mins >= 1 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

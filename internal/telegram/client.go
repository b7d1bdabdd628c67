// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/quakeoracle/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

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

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendStartup announces that the monitor came up.
func (c *Client) SendStartup() error {
	return c.sendMarkdownV2("🚀 *Quake monitor starting up* \\(market\\-rule aware\\)")
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendQuakeAlert sends one earthquake alert. Times are formatted in the
// rule set's reference timezone. A revision alert carries the previous
// magnitude so the upgrade is visible at a glance.
func (c *Client) SendQuakeAlert(e *models.Event, labels []string, loc *time.Location, revision bool, prevMag float64) error {
	return c.sendMarkdownV2(formatQuakeAlert(e, labels, loc, revision, prevMag))
}

// SendTradeSummary reports the per-label trade preparation outcomes for one
// matched event.
func (c *Client) SendTradeSummary(e *models.Event, tickets []models.OrderTicket, failures map[string]string) error {
	return c.sendMarkdownV2(formatTradeSummary(e, tickets, failures))
}

// SendHeartbeat sends the daily liveness beacon.
func (c *Client) SendHeartbeat(bucketKey, feedStatus string, pendingCount, alerts24h int) error {
	text := fmt.Sprintf(
		"✅ *Quake monitor heartbeat*: still running \\(%s\\)\n%s\nPending records: %d, alerts last 24h: %d",
		escapeMarkdownV2(bucketKey),
		escapeMarkdownV2(feedStatus),
		pendingCount, alerts24h,
	)
	return c.sendMarkdownV2(text)
}

func formatQuakeAlert(e *models.Event, labels []string, loc *time.Location, revision bool, prevMag float64) string {
	magStr := "N/A"
	if e.HasMagnitude {
		magStr = fmt.Sprintf("M%.1f", e.Magnitude)
	}

	var title string
	switch {
	case revision:
		title = fmt.Sprintf("🔁 *Revised: %s earthquake* \\(was M%s\\)",
			escapeMarkdownV2(magStr), escapeMarkdownV2(fmt.Sprintf("%.1f", prevMag)))
	case len(labels) > 0 || (e.HasMagnitude && e.Magnitude >= 7.0):
		title = fmt.Sprintf("🚨 *IMPORTANT: %s earthquake*", escapeMarkdownV2(magStr))
	default:
		title = fmt.Sprintf("⚠️ *Critical quake: %s*", escapeMarkdownV2(magStr))
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	if e.Place != "" {
		b.WriteString(escapeMarkdownV2(e.Place))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Time: %s\n", escapeMarkdownV2(e.OccurredAt.In(loc).Format("2006-01-02 15:04:05 MST"))))
	if e.HasLocation {
		b.WriteString(fmt.Sprintf("Coordinates: %s\n", escapeMarkdownV2(fmt.Sprintf("%.4f, %.4f", e.Latitude, e.Longitude))))
	}
	if e.HasDepth {
		b.WriteString(fmt.Sprintf("Depth: %s km\n", escapeMarkdownV2(fmt.Sprintf("%.1f", e.DepthKm))))
	}
	if e.URL != "" {
		b.WriteString(fmt.Sprintf("[Event page](%s)\n", e.URL))
	}

	if len(labels) > 0 {
		b.WriteString("\n*Related markets:*\n")
		for _, label := range labels {
			b.WriteString(fmt.Sprintf("• %s\n", escapeMarkdownV2(label)))
		}
	}

	return b.String()
}

func formatTradeSummary(e *models.Event, tickets []models.OrderTicket, failures map[string]string) string {
	var b strings.Builder
	b.WriteString("📊 *Trade preparation summary*\n")
	b.WriteString(fmt.Sprintf("Event: `%s`", escapeMarkdownV2(e.ID)))
	if e.HasMagnitude {
		b.WriteString(escapeMarkdownV2(fmt.Sprintf(" (M%.1f)", e.Magnitude)))
	}
	b.WriteString("\n\n")

	for _, ticket := range tickets {
		b.WriteString(fmt.Sprintf("✅ %s\n", escapeMarkdownV2(ticket.Label)))
		b.WriteString(fmt.Sprintf("   slug `%s`, token `%s`\n",
			escapeMarkdownV2(ticket.Slug), escapeMarkdownV2(ticket.TokenID)))
		b.WriteString(fmt.Sprintf("   %s @ %s for $%s\n",
			escapeMarkdownV2(ticket.Side),
			escapeMarkdownV2(ticket.Price),
			escapeMarkdownV2(fmt.Sprintf("%.2f", ticket.AmountUSD))))
	}
	for label, reason := range failures {
		b.WriteString(fmt.Sprintf("❌ %s: %s\n", escapeMarkdownV2(label), escapeMarkdownV2(reason)))
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

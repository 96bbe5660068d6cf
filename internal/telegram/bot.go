// Package telegram is the operator command interface. Every update is
// checked against the allow-list once, before any command runs.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/updown/report"
)

const NoAccess = "⛔ No access"

const DefaultBackoff = 5 * time.Second

type Bot struct {
	// Endpoint is the Bot API URL pattern, tgbotapi.APIEndpoint by default.
	Endpoint string
	// Backoff is the fixed wait between failed connection attempts.
	Backoff time.Duration

	token    string
	allowed  map[int64]struct{}
	reporter *report.Reporter
	log      zerolog.Logger
}

// New builds a bot. An empty allow-list denies every caller.
func New(token string, allowed []int64, r *report.Reporter, log zerolog.Logger) *Bot {
	set := make(map[int64]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	return &Bot{
		Endpoint: tgbotapi.APIEndpoint,
		Backoff:  DefaultBackoff,
		token:    token,
		allowed:  set,
		reporter: r,
		log:      log,
	}
}

func (b *Bot) Authorized(userID int64) bool {
	_, ok := b.allowed[userID]
	return ok
}

// Handle answers one command from userID.
func (b *Bot) Handle(userID int64, text string) string {
	if !b.Authorized(userID) {
		b.log.Warn().Int64("user", userID).Msg("unauthorized command")
		return NoAccess
	}

	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return b.reporter.Help()
	}
	// "/status@SomeBot" is how group chats address a bot
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")

	switch cmd {
	case "/start", "/help":
		return b.reporter.Help()
	case "/status":
		return report.FormatStatus(b.reporter.Status())
	case "/history":
		limit := 0
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return "Usage: /history [n]"
			}
			limit = n
		}
		return report.FormatHistory(b.reporter.History(limit))
	case "/reset":
		return report.ResetMessage(b.reporter.Reset())
	default:
		return "Unknown command. Try /start"
	}
}

// Run long-polls Telegram until ctx is done. Without a token the bot is
// disabled and Run returns immediately. A failed connection is retried
// every Backoff.
func (b *Bot) Run(ctx context.Context) error {
	if b.token == "" {
		b.log.Warn().Msg("telegram token empty, bot disabled")
		return nil
	}

	api := b.connect(ctx)
	if api == nil {
		return nil
	}
	b.log.Info().Str("bot", api.Self.UserName).Msg("telegram connected")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil || up.Message.From == nil {
				continue
			}
			reply := b.Handle(up.Message.From.ID, up.Message.Text)
			b.reply(api, up.Message.Chat.ID, reply)
		}
	}
}

// connect retries until the API accepts the token or ctx is done, in which
// case it returns nil.
func (b *Bot) connect(ctx context.Context) *tgbotapi.BotAPI {
	backoff := b.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	for {
		api, err := tgbotapi.NewBotAPIWithAPIEndpoint(b.token, b.Endpoint)
		if err == nil {
			return api
		}
		b.log.Warn().Err(err).Dur("backoff", backoff).Msg("telegram connect failed, retrying")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (b *Bot) reply(api *tgbotapi.BotAPI, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := api.Send(msg); err != nil {
		b.log.Error().Err(err).Msg("send telegram message")
	}
}

// Package telegram is the Telegram side of the bot: the message sender used
// by the sync engine and the conversational flows for managing
// subscriptions.
package telegram

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token       string
	AdminID     int64
	PollTimeout time.Duration
	// RatePerSec caps outbound sends across all recipients. Telegram
	// tolerates about 30 messages per second bot-wide.
	RatePerSec int
}

type Bot struct {
	tele    *tele.Bot
	limiter *rate.Limiter
	adminID int64
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Bot, error) {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(cfg.Token),
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("handler error")
		},
	})
	if err != nil {
		return nil, err
	}
	return &Bot{
		tele:    b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		adminID: cfg.AdminID,
		log:     log,
	}, nil
}

// Start begins long polling. It does not block.
func (b *Bot) Start() {
	go func() {
		b.log.Info().Str("bot", b.tele.Me.Username).Msg("polling started")
		b.tele.Start()
	}()
}

func (b *Bot) Stop() {
	b.tele.Stop()
	b.log.Info().Msg("polling stopped")
}

// NotifyAdmin sends a best-effort message to the configured admin chat.
// Failure is logged, not returned: on a first run the admin may not have
// opened a chat with the bot yet.
func (b *Bot) NotifyAdmin(text string) {
	if b.adminID == 0 {
		return
	}
	if _, err := b.tele.Send(tele.ChatID(b.adminID), text, tele.NoPreview); err != nil {
		b.log.Warn().Err(err).Msg("admin notification failed")
	}
}

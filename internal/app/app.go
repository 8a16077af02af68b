// Package app is the composition root: it builds the store, the VK client,
// the Telegram bot, the sync engine, and the scheduler, and owns their
// lifecycle. Everything is constructed once at startup and passed down
// explicitly; there are no package-level singletons.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"repostbot/internal/config"
	"repostbot/internal/engine"
	"repostbot/internal/scheduler"
	"repostbot/internal/storage"
	"repostbot/internal/transport/telegram"
	"repostbot/internal/vk"
	"repostbot/pkg/logx"
)

type App struct {
	cfgPath string
	log     zerolog.Logger
	logC    io.Closer

	store *storage.Store
	bot   *telegram.Bot
	eng   *engine.Engine
	sched *scheduler.Service
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, logC, err := logx.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With().Str("component", "storage").Logger())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reqTimeout, _ := config.ParseDurationField("vk.request_timeout", cfg.VK.RequestTimeout)
	feed := vk.New(vk.Config{
		Token:          cfg.VK.Token,
		Version:        cfg.VK.Version,
		RequestTimeout: reqTimeout,
	}, log.With().Str("component", "vk").Logger())

	pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		AdminID:     cfg.Telegram.AdminID,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With().Str("component", "telegram").Logger())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	eng := engine.New(store, feed, bot,
		log.With().Str("component", "engine").Logger(),
		engine.WithBatchSize(cfg.VK.BatchSize))

	a := &App{cfgPath: cfgPath, log: log, logC: logC, store: store, bot: bot, eng: eng}

	interval, _ := config.ParseDurationOrDefault("sync.interval", cfg.Sync.Interval, 5*time.Minute)
	sched, err := scheduler.New(
		scheduler.Config{Interval: interval, DigestCron: cfg.Sync.DigestCron},
		func(ctx context.Context) error {
			_, err := eng.RunPass(ctx)
			return err
		},
		a.sendDigest,
		log.With().Str("component", "scheduler").Logger(),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sched = sched

	telegram.NewRouter(bot, store, feed, eng).Register()
	return a, nil
}

func (a *App) Start(ctx context.Context) {
	a.bot.Start()
	a.sched.Start(ctx)

	go func() {
		err := config.Watch(ctx, a.cfgPath, a.log.With().Str("component", "config").Logger(), a.applyReload)
		if err != nil {
			a.log.Warn().Err(err).Msg("config watch unavailable")
		}
	}()

	a.bot.NotifyAdmin("Бот запущен")
	a.log.Info().Msg("started")
}

func (a *App) Stop() {
	a.sched.Stop()
	a.bot.Stop()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("store close failed")
	}
	a.log.Info().Msg("stopped")
	_ = a.logC.Close()
}

// applyReload picks up the settings that are safe to change at runtime: the
// log level and the pass interval. Everything else needs a restart.
func (a *App) applyReload(cfg *config.Config) {
	zerolog.SetGlobalLevel(logx.ParseLevel(cfg.Logging.Level, zerolog.InfoLevel))
	if d, err := config.ParseDurationField("sync.interval", cfg.Sync.Interval); err == nil && d > 0 {
		a.sched.SetInterval(d)
	}
}

// sendDigest posts the periodic operational summary to the admin chat.
func (a *App) sendDigest(ctx context.Context) {
	domains, err := a.store.ChannelDomains(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("digest: channel count failed")
		return
	}
	subs, err := a.store.SubscriberIDs(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("digest: subscriber count failed")
		return
	}
	st := a.eng.Stats()
	a.bot.NotifyAdmin(fmt.Sprintf(
		"Сводка: групп %d, подписчиков %d, проходов %d, рассылок %d",
		len(domains), len(subs), st.Passes, st.Broadcasts))
}

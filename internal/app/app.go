// Package app wires the bot together: config, logging, storage, transport,
// and the single event loop that feeds the router.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"gatebot/internal/access"
	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/membership"
	"gatebot/internal/registry"
	"gatebot/internal/router"
	rtsup "gatebot/internal/runtime/supervisor"
	kit "gatebot/internal/transport"
	"gatebot/internal/transport/telegram"
	logx "gatebot/pkg/logx"
)

const (
	updateQueueSize  = 256
	defaultStatsCron = "0 9 * * *"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter kit.Adapter
	store   registry.Store
	reg     *registry.Registry
	routes  *router.Manager
	cron    *cron.Cron

	sup     *rtsup.Supervisor
	updates chan kit.Update
}

// New builds the full application from the config file. Channels, admins,
// and the token are fixed from here on; only logging reloads at runtime.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(loggingConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error { return c.Validate() })

	token := strings.TrimSpace(cfg.Telegram.Token)
	if env := strings.TrimSpace(os.Getenv("BOT_TOKEN")); env != "" {
		token = env
	}
	if token == "" {
		return nil, fmt.Errorf("bot token not set: provide telegram.token or the BOT_TOKEN environment variable")
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{Token: token, PollTimeout: pollTimeout}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	logs.SetSender(adapter)
	logs.SetTelegramTarget(cfg.Telegram.OpsChatID)

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := registry.Open(registry.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}

	reg := registry.New(store, log.With(logx.String("comp", "registry")))
	verifier := membership.New(adapter, cfg.ChannelHandles(), log.With(logx.String("comp", "membership")))
	engine := broadcast.New(adapter, reg, log.With(logx.String("comp", "broadcast")))
	guard := access.New(cfg.Admins)

	h := newHandlers(reg, verifier, engine, cfg.Gate, log.With(logx.String("comp", "handlers")))
	routes := router.NewManager(adapter, guard.Authorize, log.With(logx.String("comp", "router")))
	routes.Register(h.commands()...)
	routes.SetFallback(h.fallback)

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		adapter: adapter,
		store:   store,
		reg:     reg,
		routes:  routes,
	}

	if cfg.Stats.Enabled {
		spec := strings.TrimSpace(cfg.Stats.Cron)
		if spec == "" {
			spec = defaultStatsCron
		}
		c := cron.New()
		if _, err := c.AddFunc(spec, func() {
			log.Info("registry stats", logx.Int("users", reg.Count()))
		}); err != nil {
			return nil, fmt.Errorf("stats.cron %q: %w", spec, err)
		}
		a.cron = c
	}

	if len(cfg.Admins) == 0 {
		log.Warn("no admins configured; /broadcast is unusable")
	}
	if len(cfg.Gate.Channels) == 0 {
		log.Warn("no gate channels configured; /start grants access unconditionally")
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))

	a.reg.Load(ctx)

	a.updates = make(chan kit.Update, updateQueueSize)
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}

	// One logical event loop; each update gets its own supervised goroutine
	// so a slow platform call for one user never blocks another's.
	a.sup.Go0("events.loop", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up := <-a.updates:
				a.sup.Go0("events.dispatch", func(dc context.Context) {
					a.routes.Dispatch(dc, up)
				})
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.applyConfigLoop)

	if a.cron != nil {
		a.cron.Start()
	}

	a.log.Info("gatebot started", logx.Int("users", a.reg.Count()))
	return nil
}

// applyConfigLoop hot-reloads the logging section. Everything else is fixed
// per process; the loop says so instead of silently applying.
func (a *App) applyConfigLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(loggingConfig(cfg))
			a.logs.SetTelegramTarget(cfg.Telegram.OpsChatID)
			a.log.Info("logging config applied")
			if immutableSectionsChanged(prev, cfg) {
				a.log.Warn("gate/admin/storage/token changes take effect on restart")
			}
			prev = cfg
		}
	}
}

func immutableSectionsChanged(a, b *config.Config) bool {
	if a == nil || b == nil {
		return false
	}
	type fixed struct {
		Telegram config.TelegramConfig
		Storage  config.StorageConfig
		Gate     config.GateConfig
		Admins   []int64
	}
	ja, _ := json.Marshal(fixed{a.Telegram, a.Storage, a.Gate, a.Admins})
	jb, _ := json.Marshal(fixed{b.Telegram, b.Storage, b.Gate, b.Admins})
	return string(ja) != string(jb)
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		cctx := a.cron.Stop()
		select {
		case <-cctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	_ = a.logs.Close()
	a.log.Info("gatebot stopped")
	return nil
}

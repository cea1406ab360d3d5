// Package app wires the scraper's collaborators from configuration. Both the
// CLI and the HTTP server build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/company-scraper/internal/accounts"
	"github.com/maltedev/company-scraper/internal/browser"
	"github.com/maltedev/company-scraper/internal/config"
	"github.com/maltedev/company-scraper/internal/extract"
	"github.com/maltedev/company-scraper/internal/history"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/notify"
	"github.com/maltedev/company-scraper/internal/progress"
	"github.com/maltedev/company-scraper/internal/ratelimit"
	"github.com/maltedev/company-scraper/internal/task"
)

type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Accounts     *accounts.Store
	Orchestrator *task.Orchestrator
	Snapshot     *progress.Snapshot
	// History is nil unless a database is configured.
	History history.TaskRepository

	reporter *progress.Async
	redis    *redis.Client
	db       *history.DB
}

// Options tweak the wiring per entry point.
type Options struct {
	// Reporters are appended after the built-in ones.
	Reporters []progress.Reporter
	// Headless overrides the browser and account settings when set.
	Headless *bool
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	store, err := accounts.NewStore(cfg.Accounts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts store: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Accounts: store,
		Snapshot: progress.NewSnapshot(),
	}

	reporters := progress.Multi{progress.NewLog(logger)}

	if cfg.RedisEnabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		reporters = append(reporters, progress.NewRedis(a.redis, cfg.Redis.Stream, logger))
		logger.Info("progress mirrored to redis", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	}

	if cfg.DatabaseEnabled() {
		db, err := history.New(ctx, history.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			a.closeClients()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			a.closeClients()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		repo := history.NewRepository(db)
		a.History = repo
		reporters = append(reporters, history.NewRecorder(repo, logger))
		logger.Info("task history enabled", "host", cfg.Database.Host, "database", cfg.Database.DBName)
	}

	reporters = append(reporters, opts.Reporters...)
	a.reporter = progress.NewAsync(reporters, logger)

	headless := cfg.Browser.Headless && !store.Settings().RaiseTheHood
	if opts.Headless != nil {
		headless = *opts.Headless
	}

	gateway := browser.NewGateway(browser.Launcher(&browser.Options{
		Headless:       headless,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Locale:         cfg.Browser.Locale,
	}), browser.GatewayConfig{
		BaseURL:      cfg.Scraper.BaseURL,
		CookieName:   cfg.Scraper.CookieName,
		LockoutCodes: cfg.Scraper.LockoutCodes,
	}, logger)

	timing := extract.Timing{
		Settle:  cfg.Scraper.SettleDelay,
		Anchor:  cfg.Scraper.AnchorTimeout,
		Results: cfg.Scraper.ResultsTimeout,
		Human:   ratelimit.NewJitterLimiter(cfg.Scraper.HumanDelayMin, cfg.Scraper.HumanDelayMax),
	}

	a.Orchestrator = task.New(task.Deps{
		Gateway: gateway,
		Strategies: func(kind models.TaskKind) (extract.Strategy, error) {
			return extract.New(kind, timing, logger)
		},
		// The snapshot is updated synchronously so readers never see a
		// state older than what the queue has already accepted.
		Reporter: progress.Multi{a.Snapshot, a.reporter},
		Tokens:   store,
		Notifier: a.notifier(),
		Logger:   logger,
	})

	return a, nil
}

func (a *App) notifier() notify.Notifier {
	n := notify.Multi{notify.NewLog(a.Logger)}
	if a.Config.SMTPEnabled() {
		n = append(n, notify.NewEmail(notify.EmailConfig{
			Server:   a.Config.SMTP.Server,
			Port:     a.Config.SMTP.Port,
			Address:  a.Config.SMTP.Address,
			Password: a.Config.SMTP.Password,
			To:       a.Config.SMTP.To,
		}))
	}
	return n
}

// Progress is the queue feeding every reporter except the snapshot.
func (a *App) Progress() *progress.Async {
	return a.reporter
}

// OutputPath is where a batch writes its CSV.
func (a *App) OutputPath() string {
	return filepath.Join(a.Config.Output.Dir, a.Config.Output.Filename)
}

// Request fills the batch defaults from configuration and the accounts
// store. An empty token falls back to the selected account's.
func (a *App) Request(kind models.TaskKind, targets []string, token string) (task.Request, error) {
	settings := a.Accounts.Settings()
	req := task.Request{
		ID:               task.NewID(),
		Token:            token,
		Targets:          targets,
		Kind:             kind,
		Delay:            a.Config.Scraper.PageDelay,
		OutputPath:       a.OutputPath(),
		IncludeLocations: settings.GetLocations,
		JobLocation:      settings.JobLocation,
	}
	if token == "" {
		stored, accountID, err := a.Accounts.StoredToken()
		if err != nil {
			return task.Request{}, err
		}
		req.Token, req.AccountID = stored, accountID
	}
	return req, nil
}

// Close drains pending progress updates and releases the clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.reporter.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain progress: %w", err))
	}
	if err := a.closeClients(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeClients() error {
	var err error
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			err = fmt.Errorf("failed to close redis: %w", cerr)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	return err
}

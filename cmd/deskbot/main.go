package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/example/deskbot/internal/booking"
	"github.com/example/deskbot/internal/config"
	"github.com/example/deskbot/internal/driver"
	"github.com/example/deskbot/internal/eligibility"
	"github.com/example/deskbot/internal/floormap"
	httptransport "github.com/example/deskbot/internal/http"
	"github.com/example/deskbot/internal/persistence"
	"github.com/example/deskbot/internal/persistence/sqlite"
	"github.com/example/deskbot/internal/poscache"
	"github.com/example/deskbot/internal/progress"
	"github.com/example/deskbot/internal/vault"
	"github.com/example/deskbot/internal/vision"
	"github.com/example/deskbot/internal/worker"
)

func main() {
	mode := pflag.String("mode", "serve", "run mode: serve, single or continuous")
	userID := pflag.String("user", "", "user to run a campaign for (single and continuous modes)")
	configFile := pflag.String("config", "", "booking configuration YAML, overriding the stored document")
	headless := pflag.Bool("headless", true, "run the browser headless")
	envFile := pflag.String("env-file", ".env", "environment file loaded before configuration")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing env file is fine; explicit settings in the environment win.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load environment file", "path", *envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if pflag.CommandLine.Changed("headless") {
		cfg.Headless = *headless
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	secret, err := vault.MachineSecret(cfg.MachineSecret)
	if err != nil {
		logger.Error("failed to resolve the machine secret", "error", err)
		os.Exit(1)
	}
	credentials, err := vault.New(newCredentialStoreAdapter(storage), secret, nil)
	if err != nil {
		logger.Error("failed to initialize the credential vault", "error", err)
		os.Exit(1)
	}

	app := &application{cfg: cfg, storage: storage, vault: credentials, logger: logger}

	switch *mode {
	case "serve":
		err = app.serve(ctx)
	case "single", "continuous":
		if *userID == "" {
			logger.Error("mode requires --user", "mode", *mode)
			os.Exit(1)
		}
		err = app.runUnattended(ctx, *userID, booking.Mode(*mode), *configFile)
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("deskbot exited with an error", "error", err)
		os.Exit(1)
	}
}

type application struct {
	cfg     config.Config
	storage *sqlite.Storage
	vault   *vault.Vault
	logger  *slog.Logger
}

// serve runs the HTTP control surface with one orchestrated worker per user.
func (a *application) serve(ctx context.Context) error {
	orchestrator := worker.NewOrchestrator(a.workerFactory(booking.ModeContinuous, ""), a.logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to stop running campaigns", "error", err)
		}
	}()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Workers:     httptransport.NewWorkerHandler(orchestrator, a.storage, a.logger),
		Configs:     httptransport.NewConfigHandler(a.storage, a.logger, nil),
		Credentials: httptransport.NewCredentialHandler(a.vault, orchestrator, a.logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(a.logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	a.logger.Info("deskbot control surface listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runUnattended drives a single user's campaign in the foreground. A session
// expiry is fatal here: with no control surface, nobody can refresh it.
func (a *application) runUnattended(ctx context.Context, userID string, mode booking.Mode, configFile string) error {
	logger := a.logger.With("user_id", userID)
	build := a.buildCampaign(userID, mode, configFile, nil, nil, logger)

	campaign, cleanup, err := build(ctx)
	if err != nil {
		if errors.Is(err, booking.ErrSessionExpired) {
			return errors.New("no usable captured session for this user; capture one through the control surface first")
		}
		return err
	}
	defer cleanup()

	logger.Info("campaign starting", "mode", mode)
	if err := campaign.Run(ctx); err != nil {
		if errors.Is(err, booking.ErrSessionExpired) {
			return errors.New("the captured session expired mid-campaign; capture a fresh one and rerun")
		}
		if errors.Is(err, context.Canceled) {
			logger.Info("campaign interrupted")
			return nil
		}
		return err
	}
	logger.Info("campaign finished")
	return nil
}

// workerFactory builds per-user workers for the orchestrator. Each worker
// gets its own event ring so the status endpoint can replay recent progress.
func (a *application) workerFactory(mode booking.Mode, configFile string) worker.Factory {
	return func(userID string) *worker.Worker {
		ring := progress.NewRing(progress.DefaultRingCapacity)
		counters := &progress.Counters{}
		logger := a.logger.With("user_id", userID)
		build := a.buildCampaign(userID, mode, configFile, ring, counters, logger)
		return worker.New(userID, build, ring, counters, a.logger, nil)
	}
}

// buildCampaign assembles the full booking pipeline for one user: browser,
// floor page, position cache, runner and scheduler. It is re-invoked after
// every credential refresh so each resume starts from a fresh browser.
func (a *application) buildCampaign(userID string, mode booking.Mode, configFile string, ring *progress.Ring, counters *progress.Counters, logger *slog.Logger) worker.BuildFunc {
	return func(ctx context.Context) (worker.Campaign, func(), error) {
		bookingCfg, err := a.bookingConfig(ctx, userID, configFile)
		if err != nil {
			return nil, nil, err
		}

		blob, err := a.vault.Load(ctx, userID)
		if err != nil {
			if errors.Is(err, vault.ErrNotFound) || errors.Is(err, vault.ErrInvalidated) || errors.Is(err, vault.ErrDecryption) {
				return nil, nil, booking.ErrSessionExpired
			}
			return nil, nil, fmt.Errorf("load credential: %w", err)
		}

		newDriver := func(ctx context.Context) (driver.Driver, error) {
			return driver.NewChrome(ctx, driver.ChromeOptions{
				Headless:         a.cfg.Headless,
				ViewportWidth:    a.cfg.ViewportWidth,
				ViewportHeight:   a.cfg.ViewportHeight,
				OperationTimeout: a.cfg.OperationTimeout,
				Logger:           logger,
			})
		}
		drv, err := newDriver(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("launch browser: %w", err)
		}

		page := floormap.NewFloorPage(drv, floormap.FloorPageOptions{
			BaseURL:   a.cfg.VendorURL,
			Building:  bookingCfg.Building,
			Floor:     bookingCfg.Floor,
			NewDriver: newDriver,
			Logger:    logger,
		})
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if cerr := page.Close(closeCtx); cerr != nil {
				logger.Warn("failed to close the browser", "error", cerr)
			}
		}

		if err := page.RestoreSession(ctx, blob); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("restore session: %w", err)
		}

		cachePath := a.cachePath(userID, bookingCfg)
		var cache *poscache.Cache
		switch loaded, err := poscache.Load(cachePath); {
		case err == nil:
			cache = loaded
		case errors.Is(err, poscache.ErrNotFound):
			// First run for this floor; discovery will capture one.
		default:
			logger.Warn("position cache unreadable, falling back to discovery", "path", cachePath, "error", err)
		}

		reporter := progress.Fanout{progress.LogReporter{Logger: logger}}
		if ring != nil {
			reporter = append(reporter, ring)
		}

		resolver := eligibility.NewResolver(time.Now, a.cfg.HorizonDays)
		runner := &booking.Runner{
			Page:     page,
			Detector: vision.NewDetector(),
			Ranking:  bookingCfg.RankingEngine(),
			Resolver: resolver,
			Config:   bookingCfg,
			Cache:    cache,
			SaveCache: func(doc poscache.Document) error {
				return poscache.Save(cachePath, doc)
			},
			Logger:   logger,
			Reporter: reporter,
		}
		scheduler := &booking.Scheduler{
			Runner:   runner,
			Page:     page,
			Resolver: resolver,
			Config:   bookingCfg,
			Mode:     mode,
			UserID:   userID,
			Attempts: a.storage,
			Logger:   logger,
			Reporter: reporter,
			Counters: counters,
			NewID:    uuid.NewString,
		}

		// An observed expiry marks the stored credential invalid, so every
		// later load fails fast instead of replaying a dead session.
		campaign := campaignFunc(func(ctx context.Context) error {
			err := scheduler.Run(ctx)
			if errors.Is(err, booking.ErrSessionExpired) {
				if ierr := a.vault.Invalidate(context.WithoutCancel(ctx), userID); ierr != nil {
					logger.Warn("failed to invalidate the expired credential", "error", ierr)
				}
			}
			return err
		})
		return campaign, cleanup, nil
	}
}

// campaignFunc adapts a bare run function to the worker's campaign shape.
type campaignFunc func(ctx context.Context) error

func (f campaignFunc) Run(ctx context.Context) error { return f(ctx) }

// bookingConfig resolves the effective booking configuration: an explicit
// YAML file wins, otherwise the stored per-user document is used.
func (a *application) bookingConfig(ctx context.Context, userID, configFile string) (booking.Config, error) {
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return booking.Config{}, fmt.Errorf("read config file: %w", err)
		}
		cfg, err := booking.ParseConfigYAML(data)
		if err != nil {
			return booking.Config{}, err
		}
		if err := cfg.Validate(); err != nil {
			return booking.Config{}, fmt.Errorf("config file %s: %w", configFile, err)
		}
		return cfg, nil
	}

	stored, err := a.storage.GetConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return booking.Config{}, fmt.Errorf("no booking configuration stored for user %s", userID)
		}
		return booking.Config{}, fmt.Errorf("load stored config: %w", err)
	}
	cfg, err := booking.ParseConfig(stored.Document)
	if err != nil {
		return booking.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return booking.Config{}, err
	}
	return cfg, nil
}

// cachePath places one position cache document per user and floor, so users
// targeting different floors never poison each other's coordinates.
func (a *application) cachePath(userID string, cfg booking.Config) string {
	name := fmt.Sprintf("positions-%s-%s-%s.json", userID, cfg.Building, cfg.Floor)
	return filepath.Join(a.cfg.DataDir, name)
}

// credentialStoreAdapter bridges the vault's record shape onto the SQLite
// credential repository.
type credentialStoreAdapter struct {
	repo persistence.CredentialRepository
}

func newCredentialStoreAdapter(repo persistence.CredentialRepository) *credentialStoreAdapter {
	return &credentialStoreAdapter{repo: repo}
}

func (a *credentialStoreAdapter) SaveCredential(ctx context.Context, rec vault.Record) error {
	return a.repo.SaveCredential(ctx, persistence.Credential{
		UserID:     rec.UserID,
		Ciphertext: rec.Ciphertext,
		CapturedAt: rec.CapturedAt,
		Valid:      rec.Valid,
	})
}

func (a *credentialStoreAdapter) GetCredential(ctx context.Context, userID string) (vault.Record, error) {
	stored, err := a.repo.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return vault.Record{}, vault.ErrNotFound
		}
		return vault.Record{}, err
	}
	return vault.Record{
		UserID:     stored.UserID,
		Ciphertext: stored.Ciphertext,
		CapturedAt: stored.CapturedAt,
		Valid:      stored.Valid,
	}, nil
}

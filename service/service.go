package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"blogdash/config"
	"blogdash/db"
	"blogdash/fetcher"
	"blogdash/github"
	"blogdash/logger"
	"blogdash/models"
	"blogdash/web"
)

// Service errors
var (
	ErrServiceInit     = fmt.Errorf("service initialization error")
	ErrServiceShutdown = fmt.Errorf("service shutdown error")
)

const shutdownTimeout = 10 * time.Second

// Service represents the main application service
type Service struct {
	config    *config.Config
	database  *db.DB
	client    *github.Client
	syncer    *fetcher.Syncer
	refresher *Refresher
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewService creates a new service instance from a loaded configuration
func NewService(cfg *config.Config) (*Service, error) {
	database, err := db.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize database: %v", ErrServiceInit, err)
	}

	client, err := github.NewClient(github.Options{
		BaseURL:         cfg.GitHub.APIURL,
		Owner:           cfg.GitHub.Owner,
		User:            cfg.GitHub.User,
		Token:           cfg.GitHub.Token,
		RateLimit:       cfg.GitHub.RateLimit,
		RetryMaxElapsed: cfg.GitHub.RetryMaxElapsed,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("%w: failed to initialize GitHub client: %v", ErrServiceInit, err)
	}

	syncer := fetcher.NewSyncer(database, client, fetcher.Options{
		SiteRepo:   cfg.GitHub.SiteRepo,
		DraftsRepo: cfg.GitHub.DraftsRepo,
		Ref:        cfg.GitHub.SiteRef,
		RosterPath: cfg.GitHub.RosterPath,
		PostsPath:  cfg.GitHub.PostsPath,
		Launch:     cfg.LaunchMonth,
	})

	ctx, cancel := context.WithCancel(context.Background())

	logger.Info("Service initialized successfully",
		zap.String("owner", cfg.GitHub.Owner),
		zap.String("site_repo", cfg.GitHub.SiteRepo),
		zap.String("drafts_repo", cfg.GitHub.DraftsRepo),
		zap.String("db_driver", database.Driver()),
		zap.Duration("refresh_threshold", cfg.RefreshThreshold))

	return &Service{
		config:    cfg,
		database:  database,
		client:    client,
		syncer:    syncer,
		refresher: NewRefresher(syncer, database, nil),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Migrate creates the schema and seeds reference data
func (s *Service) Migrate(ctx context.Context) error {
	return s.database.Migrate(ctx)
}

// Sync refreshes stale sources, or all sources when force is set
func (s *Service) Sync(ctx context.Context, force bool) (Report, error) {
	if force {
		return s.refresher.Force(ctx)
	}
	return s.refresher.Refresh(ctx, s.config.RefreshThreshold)
}

// RosterAt returns the roster as it was published at the end of month
func (s *Service) RosterAt(ctx context.Context, month time.Time) ([]models.RosterRecord, error) {
	return s.syncer.RosterAt(ctx, month)
}

// Start migrates the store, serves the dashboard and blocks until a
// shutdown signal arrives
func (s *Service) Start() error {
	if err := s.Migrate(s.ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceInit, err)
	}

	router := web.NewRouter(web.Options{
		Queries:  s.database,
		Refresh:  s.refreshForRequest,
		User:     s.config.DashboardUser,
		Password: s.config.DashboardPassword,
	})
	server := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting dashboard server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.config.RefreshInterval > 0 {
		logger.Info("Starting background refresh",
			zap.Duration("interval", s.config.RefreshInterval))
		s.refresher.Monitor(s.ctx, s.config.RefreshInterval, s.config.RefreshThreshold)
	}

	var serveErr error
	select {
	case serveErr = <-errChan:
		logger.Error("Dashboard server failed", zap.Error(serveErr))
		s.cancel()
	case <-s.waitForShutdown():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceShutdown, err)
	}
	return serveErr
}

// refreshForRequest is the render-time refresh. Failures are logged by the
// refresher and stored data is served.
func (s *Service) refreshForRequest(ctx context.Context) error {
	_, err := s.refresher.Refresh(ctx, s.config.RefreshThreshold)
	return err
}

// waitForShutdown returns a channel closed once a shutdown signal arrives
func (s *Service) waitForShutdown() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, initiating graceful shutdown")
			s.cancel()
		case <-s.ctx.Done():
		}
		close(done)
	}()
	return done
}

// Close performs cleanup operations
func (s *Service) Close() error {
	logger.Info("Closing service")
	s.cancel()
	if err := s.database.Close(); err != nil {
		return fmt.Errorf("%w: failed to close database: %v", ErrServiceShutdown, err)
	}
	return nil
}

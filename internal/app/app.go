package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"livedetect/internal/capture"
	"livedetect/internal/capture/camera"
	"livedetect/internal/config"
	"livedetect/internal/logger"
	"livedetect/internal/metrics"
	"livedetect/internal/normalize"
	"livedetect/internal/overlay"
	"livedetect/internal/repository"
	"livedetect/internal/repository/sqlite"
	"livedetect/internal/route"
	"livedetect/internal/service"
	"livedetect/internal/service/journal"
	"livedetect/internal/service/websocket"
	"livedetect/internal/store"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	source        capture.Source
	store         *store.SnapshotStore
	manager       *service.Manager
	hubService    *websocket.HubService
	renderer      *overlay.Renderer
	db            *sqlite.DB
	snapshotRepo  repository.SnapshotRepository
	bufferService *journal.BufferService
}

// NewApp opens the frame source and the journal and wires the pipeline.
func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	source, err := openSource(cfg)
	if err != nil {
		return nil, err
	}

	normalizer := normalize.New(normalize.Resolution{
		Width:  float64(cfg.ReferenceWidth),
		Height: float64(cfg.ReferenceHeight),
	})
	snapshots := store.NewSnapshotStore()
	mng := service.NewManager(cfg, source, snapshots, normalizer, metrics.New(), logger, nil)

	a := &App{
		config:     cfg,
		logger:     logger,
		source:     source,
		store:      snapshots,
		manager:    mng,
		hubService: websocket.NewHubService(logger),
		renderer:   overlay.NewRenderer(normalizer, true),
	}

	if cfg.JournalPath != "" {
		db, err := sqlite.New(cfg.JournalPath)
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.db = db
		a.snapshotRepo = sqlite.NewSnapshotRepository(db)
		a.bufferService = journal.NewBufferService(cfg, logger, a.snapshotRepo)
	}

	return a, nil
}

func openSource(cfg *config.Config) (capture.Source, error) {
	if cfg.UsesCamera() {
		cam, err := camera.Open(cfg.CameraDevice, cfg.CaptureWidth, cfg.CaptureHeight, cfg.JPEGQuality)
		if err != nil {
			return nil, err
		}
		return cam, nil
	}

	files, err := capture.NewFileSource(cfg.FrameSource)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Run streams to the backend and serves the local viewer API until ctx is
// cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hubService.Run(ctx)
		return nil
	})

	viewerID, viewerFeed := a.store.Subscribe()
	defer a.store.Unsubscribe(viewerID)
	g.Go(func() error {
		a.hubService.Pump(ctx, viewerFeed, a.manager.Status)
		return nil
	})

	if a.bufferService != nil {
		journalID, journalFeed := a.store.Subscribe()
		defer a.store.Unsubscribe(journalID)
		g.Go(func() error {
			a.bufferService.Run(ctx, journalFeed)
			return nil
		})
	}

	g.Go(func() error {
		err := a.manager.Run(ctx)
		if errors.Is(err, service.ErrStopped) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case n := <-a.manager.Notices():
				a.logger.Warning("📣 %s", n.Message)
			}
		}
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: route.SetupRoutes(a.manager, a.hubService, a.renderer, a.config, a.logger, a.snapshotRepo),
	}

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("viewer server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.manager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	a.logger.Info("🚀 Live detection client")
	a.logger.Info("📍 Viewer: http://localhost:%d/api/view", a.config.Port)
	a.logger.Info("🔗 Backend: %s as %s (%s)", a.config.Endpoint, a.config.Username, a.config.Language)
	if a.config.JournalPath != "" {
		a.logger.Info("📁 Journal: %s", a.config.JournalPath)
	}

	return g.Wait()
}

func (a *App) close() {
	if err := a.source.Close(); err != nil {
		a.logger.Warning("Closing frame source: %v", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warning("Closing journal: %v", err)
		}
	}
}

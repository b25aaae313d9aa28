// Package ouroboros wires the store, engines, loops and API into one process.
package ouroboros

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/ouroboros/internal/api"
	"github.com/jordanhubbard/ouroboros/internal/auth"
	"github.com/jordanhubbard/ouroboros/internal/database"
	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/github"
	"github.com/jordanhubbard/ouroboros/internal/intake"
	"github.com/jordanhubbard/ouroboros/internal/kanban"
	"github.com/jordanhubbard/ouroboros/internal/lease"
	"github.com/jordanhubbard/ouroboros/internal/lifecycle"
	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/messagebus"
	"github.com/jordanhubbard/ouroboros/internal/metrics"
	"github.com/jordanhubbard/ouroboros/internal/provider"
	"github.com/jordanhubbard/ouroboros/internal/publish"
	"github.com/jordanhubbard/ouroboros/internal/scheduler"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/internal/trackersync"
	"github.com/jordanhubbard/ouroboros/pkg/config"
)

// Loop names, also used as metric labels.
const (
	LoopPoller      = "poller"
	LoopTrackerSync = "tracker-sync"
	LoopMaintenance = "maintenance"
)

const (
	maintenanceInterval = time.Minute
	watchdogInterval    = 30 * time.Second
)

// Ouroboros owns every long-lived component of a replica.
type Ouroboros struct {
	config     *config.Config
	version    string
	instanceID string

	database   *database.Database
	store      store.Store
	registry   *provider.Registry
	watchdog   *provider.HealthWatchdog
	eventBus   *events.EventBus
	messageBus *messagebus.NatsMessageBus
	bridge     *messagebus.Bridge
	intake     *intake.Intake
	metrics    *metrics.Metrics
	logs       *logging.Buffer
	auth       *auth.Manager

	lifecycle     *lifecycle.Engine
	trackerClient *github.Client
	syncEngine    *trackersync.Engine
	board         *kanban.Adapter

	pool        *scheduler.Pool
	poller      *scheduler.Loop
	syncer      *scheduler.Loop
	maintenance *scheduler.Loop

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Option customises New.
type Option func(*Ouroboros)

// WithLogBuffer exposes captured log entries through the API.
func WithLogBuffer(b *logging.Buffer) Option {
	return func(o *Ouroboros) { o.logs = b }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(o *Ouroboros) { o.version = v }
}

// WithStore replaces the configured store.
func WithStore(s store.Store) Option {
	return func(o *Ouroboros) { o.store = s }
}

// WithTrackerRunner replaces the gh command runner.
func WithTrackerRunner(r github.Runner) Option {
	return func(o *Ouroboros) { o.trackerClient = github.NewClient(o.config.Tracker, github.WithRunner(r)) }
}

// New builds every component from cfg without starting anything.
func New(cfg *config.Config, opts ...Option) (*Ouroboros, error) {
	o := &Ouroboros{
		config:     cfg,
		instanceID: instanceID(),
		metrics:    metrics.NewMetrics(),
		eventBus:   events.NewEventBus(0),
		auth:       auth.NewManager(cfg.Security),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.build(); err != nil {
		o.Shutdown()
		return nil, err
	}
	return o, nil
}

func (o *Ouroboros) build() error {
	cfg := o.config
	log := logging.Component("ouroboros")

	if o.store == nil {
		if cfg.Database.Type == "memory" {
			o.store = store.NewMemoryStore()
		} else {
			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			o.database = db
			o.store = db
		}
	}

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	registry, err := provider.NewRegistryFromConfig(cfg.LLM, client)
	if err != nil {
		return fmt.Errorf("build backend registry: %w", err)
	}
	o.registry = registry
	o.watchdog = provider.NewHealthWatchdog(registry, watchdogInterval, o.metrics.SetBackendAvailable)

	if cfg.Publish.Type == "nats" || cfg.Intake.Enabled {
		mb, err := messagebus.NewNatsMessageBus(messagebus.Config{
			URL:        cfg.Publish.NATSURL,
			StreamName: cfg.Publish.StreamName,
		})
		if err != nil {
			return err
		}
		o.messageBus = mb
		o.bridge = messagebus.NewBridge(mb, o.eventBus, o.instanceID)
	}
	if cfg.Intake.Enabled {
		o.intake = intake.New(o.store, o.eventBus, o.metrics)
	}

	var publisher publish.Publisher = publish.NewLogPublisher()
	if cfg.Publish.Type == "nats" {
		publisher = publish.NewNATSPublisher(o.messageBus)
	}
	o.lifecycle = lifecycle.NewEngine(o.store, registry, publisher, lifecycle.Config{
		GenerateTimeout: cfg.Agent.GenerateTimeout,
		PublishTimeout:  cfg.Agent.PublishTimeout,
	}, lifecycle.WithEvents(o.eventBus), lifecycle.WithMetrics(o.metrics))

	locker, err := lease.New(cfg.Lease, o.database)
	if err != nil {
		return fmt.Errorf("build lease: %w", err)
	}
	if o.trackerClient == nil {
		o.trackerClient = github.NewClient(cfg.Tracker)
	}
	o.syncEngine = trackersync.NewEngine(o.store, o.trackerClient, trackersync.Config{
		Enabled:        cfg.Tracker.Enabled,
		CursorLookback: cfg.Tracker.CursorLookback,
		LeaseTTL:       cfg.Lease.TTL,
	}, trackersync.WithLease(locker), trackersync.WithEvents(o.eventBus), trackersync.WithMetrics(o.metrics))
	o.board = kanban.NewAdapter(o.trackerClient, cfg.Tracker.Enabled)

	o.pool = scheduler.NewPool(cfg.Agent.Workers)
	o.poller = scheduler.NewLoop(LoopPoller, cfg.Agent.PollInterval, o.poll,
		scheduler.WithPool(o.pool), scheduler.WithMetrics(o.metrics))
	o.syncer = scheduler.NewLoop(LoopTrackerSync, cfg.Tracker.SyncInterval, o.sync,
		scheduler.WithMetrics(o.metrics))
	o.maintenance = scheduler.NewLoop(LoopMaintenance, maintenanceInterval, o.maintain,
		scheduler.WithMetrics(o.metrics), scheduler.WithInitialDelay(0))

	log.Info().
		Str("instance", o.instanceID).
		Str("database", cfg.Database.Type).
		Str("publish", cfg.Publish.Type).
		Str("default_model", registry.DefaultModelID()).
		Bool("tracker", cfg.Tracker.Enabled).
		Msg("components built")
	return nil
}

// Initialize starts the loops, the NATS bridge and intake, and the backend watchdog.
func (o *Ouroboros) Initialize(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)

	if o.bridge != nil {
		if err := o.bridge.Start(ctx); err != nil {
			return fmt.Errorf("start event bridge: %w", err)
		}
	}
	if o.intake != nil {
		if err := o.intake.Start(o.messageBus, o.config.Intake.Subject, o.config.Intake.Durable); err != nil {
			return fmt.Errorf("start intake: %w", err)
		}
	}

	go o.watchdog.Run(ctx)
	o.maintenance.Start(ctx)
	o.poller.Start(ctx)
	o.syncer.Start(ctx)
	return nil
}

// Handler returns the instrumented admin API handler.
func (o *Ouroboros) Handler() http.Handler {
	srv := api.NewServer(api.Deps{
		Store:     o.store,
		Lifecycle: o.lifecycle,
		Poller:    o.poller,
		Syncer:    o.syncer,
		Tracker:   o.syncEngine,
		Board:     o.board,
		Registry:  o.registry,
		Events:    o.eventBus,
		Logs:      o.logs,
		Auth:      o.auth,
		Metrics:   o.metrics,
		Version:   o.version,
	})
	return otelhttp.NewHandler(srv.SetupRoutes(), "ouroboros-http-server")
}

// ApplyConfig applies the settings that may change at runtime.
func (o *Ouroboros) ApplyConfig(cfg *config.Config) {
	log := logging.Component("ouroboros")
	logging.SetLevel(cfg.Logging.Level)
	o.syncEngine.SetEnabled(cfg.Tracker.Enabled)
	o.board.SetEnabled(cfg.Tracker.Enabled)
	_ = o.eventBus.Publish(&events.Event{
		Type:   events.EventTypeConfigUpdated,
		Source: "hotreload",
		Data: map[string]interface{}{
			"tracker_enabled": cfg.Tracker.Enabled,
			"log_level":       cfg.Logging.Level,
		},
	})
	log.Info().Bool("tracker", cfg.Tracker.Enabled).Str("level", cfg.Logging.Level).Msg("runtime config applied")
}

// Shutdown stops the loops and closes connections. It is safe to call more than once.
func (o *Ouroboros) Shutdown() {
	o.shutdownOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		for _, l := range []*scheduler.Loop{o.poller, o.syncer, o.maintenance} {
			if l != nil {
				l.Stop()
			}
		}
		if o.bridge != nil {
			o.bridge.Stop()
		}
		if o.messageBus != nil {
			_ = o.messageBus.Close()
		}
		o.eventBus.Close()
		if o.database != nil {
			_ = o.database.Close()
		}
	})
}

// Store returns the work item store.
func (o *Ouroboros) Store() store.Store { return o.store }

// Lifecycle returns the lifecycle engine.
func (o *Ouroboros) Lifecycle() *lifecycle.Engine { return o.lifecycle }

// TrackerSync returns the tracker sync engine.
func (o *Ouroboros) TrackerSync() *trackersync.Engine { return o.syncEngine }

// Board returns the kanban adapter.
func (o *Ouroboros) Board() *kanban.Adapter { return o.board }

// Poller returns the poll loop.
func (o *Ouroboros) Poller() *scheduler.Loop { return o.poller }

func (o *Ouroboros) poll(ctx context.Context) error {
	_, err := o.lifecycle.RunOnce(ctx)
	return err
}

func (o *Ouroboros) sync(ctx context.Context) error {
	_, err := o.syncEngine.SyncOnce(ctx)
	return err
}

// maintain fails stranded in_progress items and refreshes the status gauge.
func (o *Ouroboros) maintain(ctx context.Context) error {
	if after := o.config.Agent.StaleAfter; after > 0 {
		if _, err := o.lifecycle.RecoverStale(ctx, after); err != nil {
			return err
		}
	}
	items, err := o.store.List(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int, 4)
	for status, n := range store.Counts(items) {
		counts[string(status)] = n
	}
	o.metrics.SetStatusCounts(counts)
	return nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ouroboros"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

package og

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/og/pkg/access"
	"github.com/platinummonkey/og/pkg/audit"
	"github.com/platinummonkey/og/pkg/config"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/roles"
	"github.com/platinummonkey/og/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ServiceOptions configures a Service. DB and Settings are required.
type ServiceOptions struct {
	DB       *sql.DB
	Driver   string
	Settings *config.SettingsStore

	// Redis enables the shared snapshot cache when set
	Redis       *redis.Client
	SnapshotTTL time.Duration

	RoleCacheSize int
	RoleCacheTTL  time.Duration

	Metrics *observability.Metrics
	Audit   audit.Logger
	Logger  logrus.FieldLogger
}

// Service owns the process wide collaborators: the database, og.settings,
// field metadata, the role LRU and the shared snapshot cache. Request
// scoped state lives in a Scope created by NewScope.
type Service struct {
	db       *sql.DB
	driver   string
	settings *config.SettingsStore
	fields   *fields.Registry
	roles    *roles.Store
	roleLRU  *roles.CachedStore
	entities *entity.SQLStorage
	shared   *access.RedisSnapshotCache
	metrics  *observability.Metrics
	audit    audit.Logger
	logger   logrus.FieldLogger

	// bus receives every event published in any scope
	bus *events.Bus
}

// NewService wires the process wide collaborators
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	driver := opts.Driver
	if driver == "" {
		driver = storage.DriverSQLite
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	auditLogger := opts.Audit
	if auditLogger == nil {
		auditLogger = audit.NewLogrusLogger(logger)
	}
	size := opts.RoleCacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := opts.RoleCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	roleStore := roles.NewStore(opts.DB, logger)
	s := &Service{
		db:       opts.DB,
		driver:   driver,
		settings: opts.Settings,
		fields:   fields.NewRegistry(opts.Settings),
		roles:    roleStore,
		roleLRU:  roles.NewCachedStore(roleStore, size, ttl),
		entities: entity.NewSQLStorage(opts.DB, driver, logger),
		metrics:  metrics,
		audit:    auditLogger,
		logger:   logger.WithField("component", "og"),
		bus:      events.NewBus(),
	}
	if opts.Redis != nil {
		s.shared = access.NewRedisSnapshotCache(opts.Redis, opts.SnapshotTTL, metrics, logger)
		s.shared.OnGenerationChange(s.roleLRU.Purge)
	}

	s.bus.Subscribe(s.roleLRU.Listener())
	if s.shared != nil {
		s.bus.Subscribe(s.shared.Listener())
	}
	s.bus.Subscribe(s.countMutations)
	s.bus.Subscribe(audit.Listener(auditLogger))

	opts.Settings.OnChange(func(ctx context.Context, _ config.Settings) {
		s.fields.Reload()
		s.bus.Publish(ctx, events.Event{Kind: events.ConfigSaved})
	})
	return s
}

func (s *Service) countMutations(_ context.Context, e events.Event) {
	switch e.Kind {
	case events.MembershipSaved:
		s.metrics.MembershipMutationsTotal.WithLabelValues("save").Inc()
	case events.MembershipDeleted:
		s.metrics.MembershipMutationsTotal.WithLabelValues("delete").Inc()
	case events.RoleSaved:
		s.metrics.RoleMutationsTotal.WithLabelValues("save").Inc()
	case events.RoleDeleted:
		s.metrics.RoleMutationsTotal.WithLabelValues("delete").Inc()
	}
}

// Subscribe registers a process wide listener. It sees events from every
// scope.
func (s *Service) Subscribe(l events.Listener) {
	s.bus.Subscribe(l)
}

// Publish dispatches e to the process wide listeners
func (s *Service) Publish(ctx context.Context, e events.Event) {
	s.bus.Publish(ctx, e)
}

// Settings returns the og.settings store
func (s *Service) Settings() *config.SettingsStore { return s.settings }

// Fields returns the field metadata registry
func (s *Service) Fields() *fields.Registry { return s.fields }

// Entities returns the entity storage
func (s *Service) Entities() *entity.SQLStorage { return s.entities }

// RoleCache returns the role LRU shared by every scope
func (s *Service) RoleCache() *roles.CachedStore { return s.roleLRU }

// Metrics returns the Prometheus collectors
func (s *Service) Metrics() *observability.Metrics { return s.metrics }

// Logger returns the service logger
func (s *Service) Logger() logrus.FieldLogger { return s.logger }

// RunMigrations applies the schema of every store
func (s *Service) RunMigrations(ctx context.Context) error {
	return RunMigrations(ctx, s.db, s.driver, s.logger)
}

// RunMigrations applies the entity, role and membership schemas in order
func RunMigrations(ctx context.Context, db *sql.DB, driver string, logger logrus.FieldLogger) error {
	var migrations []storage.Migration
	migrations = append(migrations, entity.GetMigrations()...)
	migrations = append(migrations, roles.GetMigrations()...)
	migrations = append(migrations, membership.GetMigrations()...)
	return storage.RunMigrations(ctx, db, driver, migrations, logger)
}

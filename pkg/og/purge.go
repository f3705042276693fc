package og

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/og/pkg/audit"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/sirupsen/logrus"
)

// OrphanDeleter removes memberships whose group no longer exists
type OrphanDeleter interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

// DanglingDeleter removes audience references whose target no longer exists
type DanglingDeleter interface {
	DeleteDanglingReferences(ctx context.Context) (int64, error)
}

// PurgeResult counts the rows removed by one purge run
type PurgeResult struct {
	Memberships int64 `json:"memberships"`
	References  int64 `json:"references"`
}

// Total returns the number of rows removed
func (r PurgeResult) Total() int64 { return r.Memberships + r.References }

// OrphanPurger removes memberships and references left behind by deleted
// group entities
type OrphanPurger struct {
	memberships OrphanDeleter
	references  DanglingDeleter
	publish     func(ctx context.Context, e events.Event)
	metrics     *observability.Metrics
	audit       audit.Logger
	logger      logrus.FieldLogger
}

// NewOrphanPurger creates a purger. publish receives a CacheInvalidated
// event after a run that removed rows.
func NewOrphanPurger(memberships OrphanDeleter, references DanglingDeleter, publish func(context.Context, events.Event), metrics *observability.Metrics, auditLogger audit.Logger, logger logrus.FieldLogger) *OrphanPurger {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogrusLogger(logger)
	}
	return &OrphanPurger{
		memberships: memberships,
		references:  references,
		publish:     publish,
		metrics:     metrics,
		audit:       auditLogger,
		logger:      logger.WithField("component", "orphan_purger"),
	}
}

// Purge runs one purge
func (p *OrphanPurger) Purge(ctx context.Context) (PurgeResult, error) {
	start := time.Now()
	var result PurgeResult

	n, err := p.memberships.DeleteOrphans(ctx)
	if err != nil {
		return result, p.fail(ctx, fmt.Errorf("failed to purge memberships: %w", err))
	}
	result.Memberships = n
	p.metrics.OrphansPurgedTotal.WithLabelValues("membership").Add(float64(n))

	n, err = p.references.DeleteDanglingReferences(ctx)
	if err != nil {
		return result, p.fail(ctx, fmt.Errorf("failed to purge references: %w", err))
	}
	result.References = n
	p.metrics.OrphansPurgedTotal.WithLabelValues("reference").Add(float64(n))

	if result.Total() > 0 && p.publish != nil {
		p.publish(ctx, events.Event{Kind: events.CacheInvalidated})
	}

	_ = p.audit.Log(ctx, &audit.AuditEvent{
		EventType: audit.EventTypePurge,
		Status:    audit.EventStatusSuccess,
		Message:   "orphan purge completed",
		Metadata: map[string]interface{}{
			"memberships": result.Memberships,
			"references":  result.References,
		},
	})
	p.logger.WithFields(logrus.Fields{
		"memberships": result.Memberships,
		"references":  result.References,
		"duration":    time.Since(start),
	}).Info("Orphan purge completed")
	return result, nil
}

func (p *OrphanPurger) fail(ctx context.Context, err error) error {
	_ = p.audit.Log(ctx, &audit.AuditEvent{
		EventType:    audit.EventTypePurge,
		Status:       audit.EventStatusFailure,
		Message:      "orphan purge failed",
		ErrorMessage: err.Error(),
	})
	return err
}

// OrphanPurger returns a purger over the service's stores
func (s *Service) OrphanPurger() *OrphanPurger {
	memberships := membership.NewStore(s.db, s.roleLRU, s.logger)
	return NewOrphanPurger(memberships, s.entities, s.bus.Publish, s.metrics, s.audit, s.logger)
}

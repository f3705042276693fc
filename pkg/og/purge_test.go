package og

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/og/pkg/audit"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrphanPurger(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	sc := f.svc.NewScope()

	_, err := sc.Subscribe(ctx, f.group, entity.NewUser(5, "u5"), "", "")
	require.NoError(t, err)
	post := entity.NewContent("node", "post", "Meetup", 5)
	require.NoError(t, sc.Audience.AddGroup(post, fields.DefaultFieldName, f.group))
	require.NoError(t, f.svc.Entities().Save(ctx, post))

	purger := f.svc.OrphanPurger()

	result, err := purger.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Total(), "nothing is orphaned while the group exists")

	require.NoError(t, f.svc.Entities().Delete(ctx, "node", f.group.ID()))

	var invalidated bool
	f.svc.Subscribe(func(_ context.Context, e events.Event) {
		invalidated = invalidated || e.Kind == events.CacheInvalidated
	})

	result, err = purger.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Memberships: 1, References: 1}, result)
	assert.True(t, invalidated)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OrphansPurgedTotal.WithLabelValues("membership")))

	member, err := f.svc.NewScope().Memberships.IsMember(ctx, f.group, 5, anyState)
	require.NoError(t, err)
	assert.False(t, member)

	purges := f.audit.ofType(audit.EventTypePurge)
	require.Len(t, purges, 2)
	assert.Equal(t, int64(1), purges[1].Metadata["memberships"])
}

func TestOrphanPurger_Errors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	mem := &memoryAudit{}
	purger := NewOrphanPurger(membership.NewStore(db, nil, quietLogger()), nil, nil, observability.NewMetrics(nil), mem, quietLogger())

	_, err = purger.Purge(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	failures := mem.ofType(audit.EventTypePurge)
	require.Len(t, failures, 1)
	assert.Equal(t, audit.EventStatusFailure, failures[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

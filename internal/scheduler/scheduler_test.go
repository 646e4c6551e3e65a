package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shirikacare/portal/internal/clock"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	paymentrepository "github.com/shirikacare/portal/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	sched *Scheduler
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&paymentdomain.PaymentRequest{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	sched, err := New(Params{
		DB:          db,
		Log:         zap.New(core),
		PaymentRepo: paymentrepository.Provide(),
		Clock:       fc,
		Config:      Config{StuckThreshold: 10 * time.Minute},
	})
	require.NoError(t, err)

	return &fixture{db: db, node: node, clock: fc, sched: sched, logs: logs}
}

func (f *fixture) seedPending(t *testing.T, age time.Duration) paymentdomain.PaymentRequest {
	t.Helper()
	row := paymentdomain.PaymentRequest{
		ID:        f.node.Generate(),
		UserID:    f.node.Generate(),
		MethodID:  f.node.Generate(),
		Phone:     "254712345678",
		Amount:    1500,
		Status:    paymentdomain.StatusPending,
		CreatedAt: f.clock.Now().Add(-age),
		UpdatedAt: f.clock.Now().Add(-age),
	}
	require.NoError(t, f.db.Create(&row).Error)
	return row
}

func stuckLogs(logs *observer.ObservedLogs) []observer.LoggedEntry {
	return logs.FilterMessage("payment stuck in pending").All()
}

func TestWatchdogReportsStuckPayment(t *testing.T) {
	f := newFixture(t)
	row := f.seedPending(t, 30*time.Minute)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	entries := stuckLogs(f.logs)
	require.Len(t, entries, 1)
	assert.Equal(t, row.ID.String(), entries[0].ContextMap()["payment_id"])
}

func TestWatchdogIgnoresFreshPending(t *testing.T) {
	f := newFixture(t)
	f.seedPending(t, 2*time.Minute)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Empty(t, stuckLogs(f.logs))
}

func TestWatchdogIgnoresTerminalPayments(t *testing.T) {
	f := newFixture(t)
	row := f.seedPending(t, time.Hour)
	require.NoError(t, f.db.Model(&paymentdomain.PaymentRequest{}).
		Where("id = ?", row.ID).
		Update("status", paymentdomain.StatusSuccess).Error)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Empty(t, stuckLogs(f.logs))
}

func TestWatchdogReportsEachPaymentOnce(t *testing.T) {
	f := newFixture(t)
	f.seedPending(t, 30*time.Minute)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Len(t, stuckLogs(f.logs), 1)
}

func TestWatchdogDoesNotRewriteState(t *testing.T) {
	f := newFixture(t)
	row := f.seedPending(t, time.Hour)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	var got paymentdomain.PaymentRequest
	require.NoError(t, f.db.First(&got, "id = ?", row.ID).Error)
	assert.Equal(t, paymentdomain.StatusPending, got.Status)
	assert.Equal(t, row.UpdatedAt.Unix(), got.UpdatedAt.Unix())
}

func TestWatchdogPicksUpNewStuckPayments(t *testing.T) {
	f := newFixture(t)
	f.seedPending(t, 30*time.Minute)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	second := f.seedPending(t, 15*time.Minute)
	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	entries := stuckLogs(f.logs)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID.String(), entries[1].ContextMap()["payment_id"])
}

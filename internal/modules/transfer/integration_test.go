package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/restock/internal/clients/marketplace"
	"github.com/aristath/restock/internal/domain"
	"github.com/aristath/restock/internal/lock"
	"github.com/aristath/restock/internal/modules/allocation"
	"github.com/aristath/restock/internal/modules/catalog"
	"github.com/aristath/restock/internal/modules/dispatch"
	"github.com/aristath/restock/internal/modules/intransit"
	"github.com/aristath/restock/internal/modules/quota"
	"github.com/aristath/restock/internal/modules/requests"
	"github.com/aristath/restock/internal/modules/stock"
	testingpkg "github.com/aristath/restock/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	svc       *Service
	market    *testingpkg.FakeMarketplace
	recorder  *dispatch.Recorder
	inTransit *intransit.Repository
}

// newStack wires the service to a seeded database and a fake marketplace
func newStack(t *testing.T) *stack {
	t.Helper()
	db := testingpkg.NewTestDB(t)
	conn := db.Conn()
	testingpkg.SeedNetwork(t, conn, testingpkg.DefaultNetwork(testNow))

	log := zerolog.Nop()
	market := testingpkg.NewFakeMarketplace(map[int]domain.Quota{
		testingpkg.CentralWarehouse: {Src: 0, Dst: 100},
		testingpkg.SouthWarehouse:   {Src: 100, Dst: 0},
	})
	creds := marketplace.NewRotation([]domain.Credential{{Name: "a", Token: "t1"}, {Name: "b", Token: "t2"}})

	catalogRepo := catalog.NewRepository(conn, log)
	inTransit := intransit.NewRepository(conn, log)
	fetcher := quota.NewFetcher(quota.Config{}, market, creds, nil, log)

	pipeline := dispatch.NewPipeline(dispatch.Config{MaxFailures: 3, CooldownLadder: []time.Duration{time.Second}}, market, creds, fetcher, log)
	pipeline.SetSleeper(func(context.Context, time.Duration) error { return nil })

	recorder := dispatch.NewRecorder(inTransit, 16, time.Minute, log)
	t.Cleanup(recorder.Close)

	svc := NewService(Config{AvailabilityWindowDays: 30}, Deps{
		Source:    catalogRepo,
		InTransit: inTransit,
		StateLog:  catalogRepo,
		Quota:     fetcher,
		Planner:   allocation.NewPlanner(allocation.Config{MinAvailabilityDays: 14}, log),
		Requests:  requests.NewBuilder(log),
		Stock:     stock.NewBuilder(log),
		Dispatch:  pipeline,
		Recorder:  recorder,
		Runs:      NewRunRepository(conn, log),
		Locker:    lock.NewLocal(),
	}, log)
	svc.now = func() time.Time { return testNow }

	return &stack{svc: svc, market: market, recorder: recorder, inTransit: inTransit}
}

func TestIntegration_RunRecordsInTransit(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	report, err := s.svc.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, report.Dispatch)
	assert.Equal(t, 20, report.Dispatch.UnitsSent)
	assert.Zero(t, report.QuotaFailed)

	orders := s.market.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, testingpkg.SouthWarehouse, orders[0].Source)
	assert.Equal(t, testingpkg.CentralWarehouse, orders[0].Destination)
	assert.Equal(t, 20, orders[0].Total())

	s.recorder.Close()
	open, err := s.inTransit.Open(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, report.ID, open[0].RunID)
	assert.Equal(t, 20, open[0].QuantityLeft)

	stored, err := s.svc.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, report.ID, stored.ID)
}

func TestIntegration_InTransitSatisfiesNextRun(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.svc.Run(ctx, RunOptions{})
	require.NoError(t, err)
	s.recorder.Close()

	// the snapshot still shows all stock in the south; the open record covers the deficit
	report, err := s.svc.Run(ctx, RunOptions{ForceQuota: true})
	require.NoError(t, err)
	assert.Zero(t, report.UnitsPlanned)
	assert.Empty(t, report.PlannedRequests)
	assert.Len(t, s.market.Orders(), 1)
}

func TestIntegration_RejectedOrderIsNotRecorded(t *testing.T) {
	s := newStack(t)
	s.market.QueueStatuses(400)
	ctx := context.Background()

	report, err := s.svc.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, report.Dispatch)
	assert.Zero(t, report.Dispatch.Accepted)
	assert.Equal(t, 1, report.Dispatch.Rejected)

	s.recorder.Close()
	open, err := s.inTransit.Open(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

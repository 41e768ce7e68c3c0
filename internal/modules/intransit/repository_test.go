package intransit

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/restock/internal/domain"
	testingpkg "github.com/aristath/restock/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(testingpkg.NewTestDB(t).Conn(), zerolog.Nop())
}

var sentAt = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

func sent(product, qty int) domain.SentTransfer {
	return domain.SentTransfer{
		RunID: "run-1", ProductID: product, SizeID: 2,
		FromWarehouse: 20, ToWarehouse: 10, FromRegion: 2, ToRegion: 1,
		Quantity: qty, SentAt: sentAt,
	}
}

func TestInsertAndOpenRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, sent(100, 5)))

	rows, err := repo.OpenRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.InFlightRow{
		ProductID: "100", SizeID: "2", FromWarehouse: "20", ToWarehouse: "10",
		FromRegion: "2", ToRegion: "1", Quantity: 5,
	}, rows[0])

	open, err := repo.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-20", open[0].Day)
	assert.Equal(t, "run-1", open[0].RunID)
	assert.Equal(t, 5, open[0].QuantityLeft)
}

func TestUpdateRemaining(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, sent(100, 5)))
	require.NoError(t, repo.Insert(ctx, sent(100, 3)))

	open, err := repo.Open(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)

	require.NoError(t, repo.UpdateRemaining(ctx, open[0].ID, 0, sentAt.Add(time.Hour)))
	require.NoError(t, repo.UpdateRemaining(ctx, open[1].ID, 1, sentAt.Add(time.Hour)))

	rows, err := repo.OpenRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1, "finished records leave the merge input")
	assert.Equal(t, 1, rows[0].Quantity, "merge uses the undelivered remainder")

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	finished := recent[1]
	assert.True(t, finished.Finished)
	require.NotNil(t, finished.FinishedAt)
	assert.True(t, finished.FinishedAt.Equal(sentAt.Add(time.Hour)))
}

func TestByKeySince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, sent(100, 5)))
	require.NoError(t, repo.Insert(ctx, sent(100, 3)))
	require.NoError(t, repo.Insert(ctx, sent(200, 1)))

	old := sent(300, 2)
	old.SentAt = old.SentAt.AddDate(0, 0, -30)
	require.NoError(t, repo.Insert(ctx, old))

	open, err := repo.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRemaining(ctx, open[0].ID, 0, time.Now()))

	groups, err := repo.ByKeySince(ctx, sentAt.AddDate(0, 0, -14))
	require.NoError(t, err)
	require.Len(t, groups, 2, "records before the cutoff are left out")

	g := groups[Key{ProductID: 100, SizeID: 2, ToRegion: 1, Day: "2024-03-20"}]
	require.Len(t, g, 2)
	assert.Less(t, g[0].ID, g[1].ID)
	assert.True(t, g[0].Finished, "finished records stay in their group")
	assert.False(t, g[1].Finished)
}

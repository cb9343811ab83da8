package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"customstream/internal/models"
)

func TestJobRepoCreateAndNextQueued(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()

	job, err := store.Jobs.Create(ctx, q, "jammy-server-cloudimg-amd64", "https://cloud-images.example.com/streams/v1/index.json")
	require.NoError(t, err)
	require.NotZero(t, job.ID)
	require.Equal(t, models.JobStatusQueued, job.Status)

	next, err := store.Jobs.NextQueued(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, job.ID, next.ID)
}

func TestJobRepoNextQueuedEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	next, err := store.Jobs.NextQueued(ctx, store.Queryer())
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestJobRepoCountActiveByProductID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()

	count, err := store.Jobs.CountActiveByProductID(ctx, q, "jammy-server-cloudimg-amd64")
	require.NoError(t, err)
	require.Equal(t, 0, count)

	job, err := store.Jobs.Create(ctx, q, "jammy-server-cloudimg-amd64", "https://example.com/index.json")
	require.NoError(t, err)

	count, err = store.Jobs.CountActiveByProductID(ctx, q, "jammy-server-cloudimg-amd64")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, store.Jobs.MarkRunning(ctx, q, job.ID))
	count, err = store.Jobs.CountActiveByProductID(ctx, q, "jammy-server-cloudimg-amd64")
	require.NoError(t, err)
	require.Equal(t, 1, count, "running still counts as active")

	require.NoError(t, store.Jobs.MarkCompleted(ctx, q, job.ID, 1))
	count, err = store.Jobs.CountActiveByProductID(ctx, q, "jammy-server-cloudimg-amd64")
	require.NoError(t, err)
	require.Equal(t, 0, count, "completed jobs no longer count as active")
}

func TestJobRepoMarkFailedTruncatesMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()

	job, err := store.Jobs.Create(ctx, q, "p1", "https://example.com/index.json")
	require.NoError(t, err)

	longMessage := make([]byte, 3000)
	for i := range longMessage {
		longMessage[i] = 'x'
	}

	require.NoError(t, store.Jobs.MarkFailed(ctx, q, job.ID, string(longMessage)))

	got, err := store.Jobs.GetByID(ctx, q, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, got.Status)
	require.Len(t, got.Message, 2000)
}

func TestJobRepoResetOrphanedRunning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()

	job, err := store.Jobs.Create(ctx, q, "p1", "https://example.com/index.json")
	require.NoError(t, err)
	require.NoError(t, store.Jobs.MarkRunning(ctx, q, job.ID))

	reset, err := store.Jobs.ResetOrphanedRunning(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, reset)

	got, err := store.Jobs.GetByID(ctx, q, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, got.Status)
}

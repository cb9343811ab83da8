package mirror

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"customstream/internal/models"
)

func TestWorkerDrainsQueuedJobToCompletion(t *testing.T) {
	server := newFakeUpstreamServer(t)
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorker(ctx, engine.store, engine)
	_, err := engine.store.Jobs.Create(ctx, engine.store.Queryer(), "com.example.maas:jammy:amd64", server.URL+"/streams/v1/index.json")
	require.NoError(t, err)

	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	require.Eventually(t, func() bool {
		jobs, err := engine.store.Jobs.List(ctx, engine.store.Queryer())
		require.NoError(t, err)
		return len(jobs) == 1 && jobs[0].Status == models.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorkerStartResetsOrphanedRunningJobs(t *testing.T) {
	server := newFakeUpstreamServer(t)
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := engine.store.Jobs.Create(ctx, engine.store.Queryer(), "com.example.maas:jammy:amd64", server.URL+"/streams/v1/index.json")
	require.NoError(t, err)
	require.NoError(t, engine.store.Jobs.MarkRunning(ctx, engine.store.Queryer(), job.ID))

	worker := NewWorker(ctx, engine.store, engine)
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	require.Eventually(t, func() bool {
		jobs, err := engine.store.Jobs.List(ctx, engine.store.Queryer())
		require.NoError(t, err)
		return len(jobs) == 1 && jobs[0].Status == models.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorkerMarksFailedJobOnUpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/streams/v1/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"format": "index:1.0", "index": {}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := engine.store.Jobs.Create(ctx, engine.store.Queryer(), "not-advertised:product", server.URL+"/streams/v1/index.json")
	require.NoError(t, err)

	worker := NewWorker(ctx, engine.store, engine)
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	require.Eventually(t, func() bool {
		jobs, err := engine.store.Jobs.List(ctx, engine.store.Queryer())
		require.NoError(t, err)
		return len(jobs) == 1 && jobs[0].Status == models.JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorkerTriggerDoesNotBlockOrPanic(t *testing.T) {
	server := newFakeUpstreamServer(t)
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorker(ctx, engine.store, engine)
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	for i := 0; i < 10; i++ {
		worker.Trigger()
	}
}

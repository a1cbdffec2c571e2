package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	failFirst map[string]bool
	notify    chan string
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{failFirst: make(map[string]bool), notify: make(chan string, 16)}
}

func (p *recordingProcessor) ProcessObject(ctx context.Context, objectKey string) error {
	p.mu.Lock()
	p.processed = append(p.processed, objectKey)
	shouldFail := p.failFirst[objectKey]
	p.failFirst[objectKey] = false
	p.mu.Unlock()

	p.notify <- objectKey
	if shouldFail {
		return errors.New("transient failure")
	}
	return nil
}

func waitFor(t *testing.T, ch chan string, n int) []string {
	t.Helper()
	var got []string
	for i := 0; i < n; i++ {
		select {
		case key := <-ch:
			got = append(got, key)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
	return got
}

func TestWorkerProcessesInOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "k1"))
	require.NoError(t, q.Enqueue(ctx, "k2"))

	processor := newRecordingProcessor()
	worker := NewWorker(q, processor, 10*time.Millisecond, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	got := waitFor(t, processor.notify, 2)
	assert.Equal(t, []string{"k1", "k2"}, got)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerRequeuesFailedItem(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "bad"))
	require.NoError(t, q.Enqueue(ctx, "good"))

	processor := newRecordingProcessor()
	processor.failFirst["bad"] = true
	worker := NewWorker(q, processor, 10*time.Millisecond, nil)

	go func() { _ = worker.Run(ctx) }()

	// The failed item goes back to the tail and comes around again.
	got := waitFor(t, processor.notify, 3)
	assert.Equal(t, []string{"bad", "good", "bad"}, got)
	cancel()
}

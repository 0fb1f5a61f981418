// ABOUTME: Fire-and-forget backend reporting
// ABOUTME: Queues duration and loop timestamp updates on a single worker
package client

import (
	"context"
	"log"
	gosync "sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/loopsync/loopsync-go/internal/protocol"
	"github.com/samber/lo"
)

// DefaultReportTimeout bounds a single report request.
const DefaultReportTimeout = 5 * time.Second

// MediaPlayerUpdater applies partial media player updates
type MediaPlayerUpdater interface {
	UpdateMediaPlayer(ctx context.Context, id string, update protocol.MediaPlayerUpdate) error
}

// Reporter submits reports in order on one background worker. Failures are
// logged and never reach the caller.
type Reporter struct {
	backend  MediaPlayerUpdater
	playerID string
	timeout  time.Duration
	pool     *workerpool.WorkerPool

	mu     gosync.Mutex
	closed bool
}

// NewReporter creates a reporter for playerID. An empty id disables reports.
func NewReporter(backend MediaPlayerUpdater, playerID string) *Reporter {
	return &Reporter{
		backend:  backend,
		playerID: playerID,
		timeout:  DefaultReportTimeout,
		pool:     workerpool.New(1),
	}
}

// ReportDuration reports the clip duration in milliseconds.
func (r *Reporter) ReportDuration(durationMs int64) {
	r.submit("duration", protocol.MediaPlayerUpdate{Duration: lo.ToPtr(durationMs)})
}

// ReportTimestamp reports the server time at which a loop started.
func (r *Reporter) ReportTimestamp(timestampMs int64) {
	r.submit("lastTimestamp", protocol.MediaPlayerUpdate{LastTimestamp: lo.ToPtr(timestampMs)})
}

func (r *Reporter) submit(field string, update protocol.MediaPlayerUpdate) {
	if r.playerID == "" || r.backend == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.backend.UpdateMediaPlayer(ctx, r.playerID, update); err != nil {
			log.Printf("Failed to report %s: %v", field, err)
		}
	})
}

// Close waits for queued reports to finish.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.pool.StopWait()
}

package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/rater/internal/metrics"
)

// WriteFunc stores one encoded session snapshot.
type WriteFunc func(userID string, data []byte) error

// VisitFunc calls write once per live session. It is called from the autosave
// goroutine and must hold each session's lock across its write, so a session
// removed under that lock is never written back afterwards.
type VisitFunc func(write WriteFunc)

// Autosaver periodically writes live sessions to the local cache.
type Autosaver struct {
	store    Store
	interval time.Duration
	visit    VisitFunc
}

func NewAutosaver(local Store, interval time.Duration, visit VisitFunc) *Autosaver {
	return &Autosaver{store: local, interval: interval, visit: visit}
}

// Start runs the autosave loop in a goroutine. The returned stop function ends
// the loop, runs one final flush and waits for the goroutine to exit.
func (a *Autosaver) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Run(ctx)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

// Run blocks until ctx is done, flushing every interval and once more on exit.
func (a *Autosaver) Run(ctx context.Context) {
	if a.interval <= 0 {
		<-ctx.Done()
		a.Flush(context.Background())
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Flush(context.Background())
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

// Flush writes every visited snapshot and returns how many were stored.
// A panic in the visitor or the store is logged, not propagated.
func (a *Autosaver) Flush(ctx context.Context) (saved int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("autosave panicked", "error", fmt.Sprint(r))
		}
	}()
	a.visit(func(userID string, data []byte) error {
		if err := a.store.Put(ctx, userID, data); err != nil {
			metrics.PersistenceFailures.WithLabelValues(TierLocal, "autosave").Inc()
			slog.Warn("autosave failed", "user", userID, "error", err)
			return err
		}
		saved++
		return nil
	})
	if saved > 0 {
		slog.Debug("autosaved sessions", "count", saved)
	}
	return saved
}

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/rater/internal/metrics"
	"github.com/pavelanni/rater/internal/model"
)

const (
	TierLocal  = "local"
	TierRemote = "remote"
)

// Source says where a loaded session came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// SaveResult reports the outcome of each tier. A nil error means the tier holds
// the snapshot.
type SaveResult struct {
	Local  error
	Remote error
}

// OK reports whether every configured tier accepted the write.
func (r SaveResult) OK() bool { return r.Local == nil && r.Remote == nil }

// Facade loads and saves sessions across both tiers.
type Facade struct {
	local    Store
	remote   Store
	manifest model.Manifest
	timeout  time.Duration
}

// Option configures a Facade.
type Option func(*Facade)

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(f *Facade) { f.timeout = d }
}

// New creates a Facade. remote may be nil, in which case the local cache is the
// only tier.
func New(local, remote Store, manifest model.Manifest, opts ...Option) *Facade {
	f := &Facade{local: local, remote: remote, manifest: manifest, timeout: 10 * time.Second}
	for _, o := range opts {
		o(f)
	}
	return f
}

// HasRemote reports whether a remote store is configured.
func (f *Facade) HasRemote() bool { return f.remote != nil }

// Load returns the stored session for userID and where it came from. The remote
// copy wins when it exists; the local cache is used when the remote has nothing
// or cannot be reached. Returns model.ErrNotFound only when every configured tier
// answered that it has no copy. When a tier failed or held an unreadable document
// and no other copy was found, the *model.PersistenceError is returned instead:
// the session may exist, and starting a fresh one would overwrite it.
func (f *Facade) Load(ctx context.Context, userID string) (*model.Session, Source, error) {
	var remoteErr error
	if f.remote != nil {
		raw, err := f.remoteGet(ctx, userID)
		switch {
		case err == nil:
			s, uerr := Upgrade(raw, f.manifest)
			if uerr == nil {
				return s, SourceRemote, nil
			}
			remoteErr = &model.PersistenceError{Tier: TierRemote, Op: "decode", Err: uerr}
			f.fail(remoteErr, userID)
		case errors.Is(err, model.ErrNotFound):
		default:
			remoteErr = &model.PersistenceError{Tier: TierRemote, Op: "get", Err: err}
			f.fail(remoteErr, userID)
		}
	}

	raw, err := f.local.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			if remoteErr != nil {
				return nil, "", remoteErr
			}
			return nil, "", model.ErrNotFound
		}
		perr := &model.PersistenceError{Tier: TierLocal, Op: "get", Err: err}
		f.fail(perr, userID)
		return nil, "", perr
	}
	s, err := Upgrade(raw, f.manifest)
	if err != nil {
		perr := &model.PersistenceError{Tier: TierLocal, Op: "decode", Err: err}
		f.fail(perr, userID)
		return nil, "", perr
	}
	if remoteErr != nil {
		slog.Warn("using local cache while the remote copy is unavailable", "user", userID)
	}
	return s, SourceLocal, nil
}

// Save writes s to the local cache and then to the remote store. Failures are
// logged and counted, never returned as errors that should stop the caller.
func (f *Facade) Save(ctx context.Context, s *model.Session) SaveResult {
	data, err := json.Marshal(s)
	if err != nil {
		return SaveResult{Local: err, Remote: err}
	}
	var res SaveResult
	if err := f.local.Put(ctx, s.User.ID, data); err != nil {
		res.Local = &model.PersistenceError{Tier: TierLocal, Op: "put", Err: err}
		f.fail(res.Local, s.User.ID)
	}
	if f.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if err := f.remote.Put(rctx, s.User.ID, data); err != nil {
			res.Remote = &model.PersistenceError{Tier: TierRemote, Op: "put", Err: err}
			f.fail(res.Remote, s.User.ID)
		}
	}
	return res
}

// SaveLocal writes s to the local cache only.
func (f *Facade) SaveLocal(ctx context.Context, s *model.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := f.local.Put(ctx, s.User.ID, data); err != nil {
		perr := &model.PersistenceError{Tier: TierLocal, Op: "put", Err: err}
		f.fail(perr, s.User.ID)
		return perr
	}
	return nil
}

// Delete removes userID's session from both tiers. Both deletes are attempted.
func (f *Facade) Delete(ctx context.Context, userID string) error {
	var errs []error
	if err := f.local.Delete(ctx, userID); err != nil {
		perr := &model.PersistenceError{Tier: TierLocal, Op: "delete", Err: err}
		f.fail(perr, userID)
		errs = append(errs, perr)
	}
	if f.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if err := f.remote.Delete(rctx, userID); err != nil {
			perr := &model.PersistenceError{Tier: TierRemote, Op: "delete", Err: err}
			f.fail(perr, userID)
			errs = append(errs, perr)
		}
	}
	if len(errs) == 0 {
		slog.Info("deleted session", "user", userID)
	}
	return errors.Join(errs...)
}

func (f *Facade) remoteGet(ctx context.Context, userID string) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.remote.Get(rctx, userID)
}

func (f *Facade) fail(err error, userID string) {
	var perr *model.PersistenceError
	if errors.As(err, &perr) {
		metrics.PersistenceFailures.WithLabelValues(perr.Tier, perr.Op).Inc()
	}
	slog.Warn("persistence failed", "user", userID, "error", err)
}

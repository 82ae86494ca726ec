package xfer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/saracen/walker"
)

const sweepBatchSize = 500

// Sweeper reclaims what abandoned sessions leave behind. Every method is idempotent
// and safe to run concurrently with itself and with live transfers.
type Sweeper struct {
	registry *Registry
	sessions stor.SessionStor
	chunks   *ChunkStore
	root     *sandbox.Root
	settings config.Settings
	metrics  *metrics.Metrics
}

// Sweep expires every PENDING or CONNECTED session whose expires_at is before now
// and returns how many it expired. A failure on one session is logged and the sweep
// continues.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired := 0

	for {
		sessions, err := s.sessions.ListExpirable(now, sweepBatchSize)
		if err != nil {
			return expired, wrapError(KindStorageFault, err, "unable to list expirable sessions")
		}

		progressed := 0
		for i := range sessions {
			if err := ctx.Err(); err != nil {
				return expired, err
			}

			ok, err := s.registry.expire(ctx, &sessions[i], now)
			switch {
			case err != nil:
				clog.ForSession(sessions[i].SessionCode).Errorf("Unable to expire session %d: %s", sessions[i].ID, err)
			case ok:
				expired++
				progressed++
				s.metrics.SweepExpired.Inc()
			}
		}

		if len(sessions) < sweepBatchSize || progressed == 0 {
			break
		}
	}

	if expired != 0 {
		clog.Global().Infof("Sweep expired %d sessions", expired)
	}

	return expired, nil
}

// ReclaimCompleted removes the files of COMPLETED sessions that finished more than
// the completed retention ago. Their downloads report NotFound afterwards.
func (s *Sweeper) ReclaimCompleted(ctx context.Context, now time.Time) (int, error) {
	sessions, err := s.sessions.ListReclaimable(now.Add(-s.settings.CompletedRetention), sweepBatchSize)
	if err != nil {
		return 0, wrapError(KindStorageFault, err, "unable to list completed sessions")
	}

	reclaimed := 0
	for i := range sessions {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}

		session := &sessions[i]
		if err := s.chunks.Remove(session); err != nil {
			s.registry.logStagingError(session, err)
			continue
		}

		if err := s.sessions.MarkFileReclaimed(session.ID, now); err != nil {
			clog.ForSession(session.SessionCode).Errorf("Unable to mark session %d reclaimed: %s", session.ID, err)
			continue
		}

		reclaimed++
		s.metrics.FilesReclaimed.Inc()
	}

	if reclaimed != 0 {
		clog.Global().Infof("Reclaimed files of %d completed sessions", reclaimed)
	}

	return reclaimed, nil
}

// ReapOrphans removes top level entries of the temp root that no live session owns
// and that have not been modified within the orphan grace period. These are left by
// crashes between creating a staging directory and recording it.
func (s *Sweeper) ReapOrphans(ctx context.Context, now time.Time) (int, error) {
	paths, err := s.sessions.ListLiveStagingPaths()
	if err != nil {
		return 0, wrapError(KindStorageFault, err, "unable to list live staging paths")
	}

	live := make(map[string]bool, len(paths))
	for _, p := range paths {
		live[filepath.Clean(p)] = true
	}

	rootDir := s.root.Dir()
	cutoff := now.Add(-s.settings.OrphanGrace)

	var (
		mu      sync.Mutex
		orphans []string
	)

	walkFn := func(pathname string, fi os.FileInfo) error {
		if pathname == rootDir {
			return nil
		}

		if filepath.Dir(pathname) != rootDir {
			return filepath.SkipDir
		}

		if !live[filepath.Clean(pathname)] && fi.ModTime().Before(cutoff) {
			mu.Lock()
			orphans = append(orphans, pathname)
			mu.Unlock()
		}

		if fi.IsDir() {
			return filepath.SkipDir
		}

		return nil
	}

	errorCallback := walker.WithErrorCallback(func(pathname string, err error) error {
		clog.Global().Warnf("Unable to walk %s: %s", pathname, err)
		return nil
	})

	if err := walker.WalkWithContext(ctx, rootDir, walkFn, errorCallback); err != nil {
		return 0, wrapError(KindStorageFault, err, "unable to walk temp root")
	}

	reaped := 0
	for _, orphan := range orphans {
		if err := s.root.RemoveAll(orphan); err != nil {
			if sandbox.IsPathViolation(err) {
				s.metrics.PathViolations.Inc()
				clog.Security().Warnf("Orphan %s escapes the temp root: %s", orphan, err)
			} else {
				clog.Global().Errorf("Unable to remove orphan %s: %s", orphan, err)
			}
			continue
		}

		reaped++
		s.metrics.OrphansReaped.Inc()
	}

	if reaped != 0 {
		clog.Global().Infof("Removed %d orphaned staging entries", reaped)
	}

	return reaped, nil
}

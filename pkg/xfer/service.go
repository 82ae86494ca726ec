package xfer

import (
	"context"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/lock"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/materials-commons/mcdrop/pkg/obj"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/pkg/errors"
)

// Deps are the collaborators of a Service. Stors, Root and Settings are required;
// the rest default to the system clock, random codes, no notifications and
// unregistered metrics.
type Deps struct {
	Stors    *stor.Stors
	Root     *sandbox.Root
	Settings config.Settings
	Clock    Clock
	Codes    CodeGenerator
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

// Service bundles the transfer components around one temp root and database.
type Service struct {
	Registry *Registry
	Chunks   *ChunkStore
	History  *HistoryRecorder
	Sweeper  *Sweeper

	clock    Clock
	settings config.Settings
	task     *PeriodicTask
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Stors == nil:
		return nil, errors.New("xfer: Stors is required")
	case deps.Root == nil:
		return nil, errors.New("xfer: Root is required")
	}

	if obj.IsNil(deps.Clock) {
		deps.Clock = SystemClock{}
	}

	if obj.IsNil(deps.Codes) {
		deps.Codes = RandomCodeGenerator{}
	}

	// A nil *notify.Hub stored in the interface is not == nil.
	if obj.IsNil(deps.Notifier) {
		deps.Notifier = notify.NopNotifier{}
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewUnregistered()
	}

	staging := &stagingArea{root: deps.Root}

	history := &HistoryRecorder{
		history: deps.Stors.HistoryStor,
		users:   deps.Stors.UserStor,
		clock:   deps.Clock,
	}

	registry := &Registry{
		sessions: deps.Stors.SessionStor,
		staging:  staging,
		history:  history,
		settings: deps.Settings,
		clock:    deps.Clock,
		codes:    deps.Codes,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
	}

	s := &Service{
		Registry: registry,
		Chunks: &ChunkStore{
			registry: registry,
			sessions: deps.Stors.SessionStor,
			staging:  staging,
			locks:    lock.NewIDLocker[int](),
			clock:    deps.Clock,
			metrics:  deps.Metrics,
		},
		History: history,
		Sweeper: &Sweeper{
			registry: registry,
			sessions: deps.Stors.SessionStor,
			root:     deps.Root,
			settings: deps.Settings,
			metrics:  deps.Metrics,
		},
		clock:    deps.Clock,
		settings: deps.Settings,
	}

	registry.chunks = s.Chunks
	s.Sweeper.chunks = s.Chunks

	s.task = NewPeriodicTask("maintenance", deps.Settings.SweepInterval, s.RunMaintenance, WithRunImmediately())

	return s, nil
}

// Start launches the periodic maintenance task.
func (s *Service) Start(ctx context.Context) error {
	return s.task.Start(ctx)
}

// Close stops the periodic maintenance task and waits for a running pass to finish.
func (s *Service) Close() error {
	s.task.Stop()
	return nil
}

// RunMaintenance performs one pass of expiry, completed file reclamation, orphan
// reaping and history purging. Errors are logged; each step runs regardless of the
// others.
func (s *Service) RunMaintenance(ctx context.Context) {
	now := s.clock.Now()

	if _, err := s.Sweeper.Sweep(ctx, now); err != nil {
		clog.Global().Errorf("Sweep failed: %s", err)
	}

	if s.settings.CompletedRetention > 0 {
		if _, err := s.Sweeper.ReclaimCompleted(ctx, now); err != nil {
			clog.Global().Errorf("Reclaiming completed files failed: %s", err)
		}
	}

	if s.settings.OrphanGrace > 0 {
		if _, err := s.Sweeper.ReapOrphans(ctx, now); err != nil {
			clog.Global().Errorf("Reaping orphans failed: %s", err)
		}
	}

	if s.settings.HistoryRetention > 0 {
		if _, err := s.History.PurgeOlderThan(ctx, now.Add(-s.settings.HistoryRetention)); err != nil {
			clog.Global().Errorf("Purging history failed: %s", err)
		}
	}
}

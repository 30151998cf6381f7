package rotation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"sotto/internal/domain"
)

// Target is the surface the scheduler maintains. Implementations serialise
// per-conversation access themselves; the scheduler only guarantees that it
// never runs two scans at once.
type Target interface {
	// Conversations lists ids with an active session.
	Conversations() []domain.ConversationID

	// SessionStatus reports the active session's age and message count.
	SessionStatus(conv domain.ConversationID) (age time.Duration, messages uint64, participants []domain.ParticipantID, ok bool)

	// Rotate establishes a fresh session key for the conversation with the
	// same participant set.
	Rotate(ctx context.Context, conv domain.ConversationID, participants []domain.ParticipantID) error

	// PoolSize reports how many unused one-time pre-keys remain.
	PoolSize() (int, error)

	// Replenish tops the one-time pre-key pool back up and republishes the
	// bundle.
	Replenish(ctx context.Context, count int) error

	// Flush wipes expired superseded session state and aged skipped keys.
	Flush(now time.Time)

	// PruneSignedPreKeys drops superseded signed pre-keys past retention.
	PruneSignedPreKeys() error
}

// Scheduler states. The scheduler is Idle between scans; ScanNow and the
// ticker both move it to Scanning with a compare-and-swap, so overlapping
// triggers coalesce into the scan already running.
const (
	StateIdle int32 = iota
	StateScanning
)

// Scheduler periodically scans every conversation and the pre-key pool.
type Scheduler struct {
	target Target
	cfg    domain.Config
	every  time.Duration
	log    *logrus.Entry

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a stopped scheduler that wakes every interval once started.
func New(target Target, cfg domain.Config, every time.Duration) *Scheduler {
	return &Scheduler{
		target: target,
		cfg:    cfg,
		every:  every,
		log:    logrus.WithField("component", "rotation"),
	}
}

// Start launches the background loop. It returns immediately; Stop tears the
// loop down. Starting an already started scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ScanNow(ctx)
			}
		}
	}()
	s.log.WithField("interval", s.every).Info("rotation scheduler started")
}

// Stop cancels the loop and waits for any in-flight scan to finish. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.done = nil
	s.log.Info("rotation scheduler stopped")
}

// State reports StateIdle or StateScanning.
func (s *Scheduler) State() int32 {
	return s.state.Load()
}

// ScanNow runs one scan immediately. It returns false without scanning when
// another scan is already in progress.
func (s *Scheduler) ScanNow(ctx context.Context) bool {
	if !s.state.CompareAndSwap(StateIdle, StateScanning) {
		return false
	}
	defer s.state.Store(StateIdle)
	s.scan(ctx)
	return true
}

func (s *Scheduler) scan(ctx context.Context) {
	now := time.Now()

	for _, conv := range s.target.Conversations() {
		age, messages, participants, ok := s.target.SessionStatus(conv)
		if !ok {
			continue
		}
		byAge := age >= s.cfg.RotationInterval
		byCount := messages >= s.cfg.MessageCountCeiling
		if !byAge && !byCount {
			continue
		}
		log := s.log.WithFields(logrus.Fields{
			"conversation_id": conv,
			"age":             age,
			"messages":        messages,
		})
		if err := s.target.Rotate(ctx, conv, participants); err != nil {
			// The old key stays active; the next tick retries.
			log.WithError(err).Warn("session key rotation failed")
			continue
		}
		log.Info("rotated session key")
	}

	if n, err := s.target.PoolSize(); err != nil {
		s.log.WithError(err).Warn("one-time pre-key pool check failed")
	} else if n < s.cfg.OneTimePreKeyLowWater {
		if err := s.target.Replenish(ctx, s.cfg.OneTimePreKeyPoolSize-n); err != nil {
			s.log.WithError(err).Warn("one-time pre-key replenishment failed")
		} else {
			s.log.WithField("pool_size", s.cfg.OneTimePreKeyPoolSize).
				Info("replenished one-time pre-key pool")
		}
	}

	s.target.Flush(now)
	if err := s.target.PruneSignedPreKeys(); err != nil {
		s.log.WithError(err).Warn("signed pre-key prune failed")
	}
}

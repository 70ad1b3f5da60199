package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/status"
)

// Connector opens the live channel.
type Connector interface {
	Initialize(ctx context.Context) error
}

// Supervisor re-arms the live channel after it drops. Every DISCONNECTED
// status (a lost channel or a failed dial) schedules one Initialize after the
// current backoff, which doubles up to max until the channel joins again.
type Supervisor struct {
	conn    Connector
	bus     *bus.Bus
	initial time.Duration
	max     time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	backoff time.Duration
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor creates a Supervisor. Nothing happens until Start.
func NewSupervisor(conn Connector, b *bus.Bus, initial, maxBackoff time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial <= 0 {
		initial = time.Second
	}
	if maxBackoff < initial {
		maxBackoff = initial
	}
	return &Supervisor{
		conn:    conn,
		bus:     b,
		initial: initial,
		max:     maxBackoff,
		logger:  logger,
		backoff: initial,
	}
}

// Start subscribes to connection status changes.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	ctx, done := s.ctx, s.done
	s.mu.Unlock()

	ch, unsub := s.bus.Subscribe(bus.KindConnectionStatus, 16)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok {
					continue
				}
				s.handle(change)
			}
		}
	}()
}

// Stop cancels any pending reconnect and waits for the subscriber to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.stopTimerLocked()
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Backoff returns the delay the next reconnect attempt will wait.
func (s *Supervisor) Backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

func (s *Supervisor) handle(change status.StatusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch change.To {
	case status.Joined:
		s.stopTimerLocked()
		s.backoff = s.initial
	case status.Closed:
		s.stopTimerLocked()
	case status.Disconnected:
		if s.timer != nil {
			return
		}
		delay := s.backoff
		s.backoff = min(s.backoff*2, s.max)
		s.logger.Info("reconnect scheduled", zap.Duration("in", delay))
		s.timer = time.AfterFunc(delay, s.reconnect)
	}
}

func (s *Supervisor) reconnect() {
	s.mu.Lock()
	s.timer = nil
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := s.conn.Initialize(ctx); err != nil {
		s.logger.Warn("reconnect failed", zap.Error(err))
	}
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

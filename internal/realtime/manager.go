// Package realtime owns the single live event channel of a daemon: connect,
// join the tenant room, dispatch inbound events and tear down.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/status"
)

// ErrAborted is returned by an Initialize that Disconnect cut short.
var ErrAborted = errors.New("initialize aborted by disconnect")

// Handler processes the data of one inbound event. Handlers run on the read
// goroutine in delivery order and must not block for long.
type Handler func(data json.RawMessage)

// Identity is the authenticated identity the channel is opened for.
type Identity struct {
	CompanyID int64
	Token     string
}

// Checkpointer persists the last applied sequence number per tenant.
type Checkpointer interface {
	LastSeq(companyID int64) (uint64, error)
	SaveLastSeq(companyID int64, seq uint64) error
}

// Options configures a Manager.
type Options struct {
	URL string
	// Identity returns the current identity; ok=false makes Initialize a no-op.
	Identity    func() (Identity, bool)
	Checkpoints Checkpointer
	Machine     *status.Machine
	DialTimeout time.Duration
	ReadLimit   int64
	Logger      *zap.Logger
}

// Manager holds at most one live channel. Concurrent or repeated Initialize
// calls never open a second one.
type Manager struct {
	url         string
	identity    func() (Identity, bool)
	checkpoints Checkpointer
	machine     *status.Machine
	dialTimeout time.Duration
	readLimit   int64
	logger      *zap.Logger

	mu           sync.Mutex
	handlers     map[string][]Handler
	conn         *websocket.Conn
	initializing bool
	abortInit    context.CancelFunc
	aborted      bool
	cancel       context.CancelFunc
	done         chan struct{}
	companyID    int64
	lastSeq      uint64
	joined       bool
}

// NewManager creates a Manager. Nothing is dialed until Initialize.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	identity := opts.Identity
	if identity == nil {
		identity = func() (Identity, bool) { return Identity{}, false }
	}
	return &Manager{
		url:         opts.URL,
		identity:    identity,
		checkpoints: opts.Checkpoints,
		machine:     opts.Machine,
		dialTimeout: opts.DialTimeout,
		readLimit:   opts.ReadLimit,
		logger:      logger,
		handlers:    make(map[string][]Handler),
	}
}

// On registers h for an event kind. Handlers registered after a channel is
// live apply to frames read from then on.
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

// Initialize opens the channel and joins the tenant room. It is a no-op when
// a channel exists, when another Initialize is in flight, or when there is no
// authenticated identity. Failures are returned, never retried here.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil || m.initializing {
		m.mu.Unlock()
		m.logger.Debug("initialize skipped: channel present or in flight")
		return nil
	}
	id, ok := m.identity()
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("initialize skipped: no identity")
		return nil
	}
	initCtx, abort := context.WithCancel(ctx)
	defer abort()
	m.initializing = true
	m.abortInit = abort
	m.aborted = false
	m.mu.Unlock()

	m.transition(status.Connecting)

	conn, err := m.dial(initCtx, id)
	if err != nil {
		return m.initFailed(err)
	}

	lastSeq := m.resumeSeq(id.CompanyID)
	join, err := json.Marshal(JoinPayload{CompanyID: id.CompanyID, LastSeq: lastSeq})
	if err == nil {
		err = writeFrame(initCtx, conn, Frame{Event: EventJoin, Data: join})
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return m.initFailed(fmt.Errorf("join room: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	if m.aborted {
		m.initializing = false
		m.abortInit = nil
		m.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		m.transition(status.Closed)
		return ErrAborted
	}
	rejoin := m.joined
	m.conn = conn
	m.cancel = cancel
	m.done = done
	m.initializing = false
	m.abortInit = nil
	m.joined = true
	m.mu.Unlock()

	m.transition(status.Joined)
	m.logger.Info("channel joined",
		zap.Int64("company_id", id.CompanyID),
		zap.Uint64("last_seq", lastSeq),
		zap.Bool("rejoin", rejoin),
	)

	go m.readPump(runCtx, conn, done, rejoin)
	return nil
}

// initFailed ends an attempt that never installed a channel. An attempt that
// Disconnect aborted ends Closed so it is not retried.
func (m *Manager) initFailed(err error) error {
	m.mu.Lock()
	m.initializing = false
	m.abortInit = nil
	aborted := m.aborted
	m.mu.Unlock()
	if aborted {
		m.transition(status.Closed)
		return ErrAborted
	}
	m.transition(status.Disconnected)
	return err
}

// Connect is Initialize under the lifecycle name used by callers that manage
// the service explicitly.
func (m *Manager) Connect(ctx context.Context) error {
	return m.Initialize(ctx)
}

// Disconnect closes the live channel, if any, and waits for its reader to exit.
// An Initialize still dialing is aborted and keeps the in-flight guard until it
// returns. The disconnect handlers do not fire for a requested close.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn, cancel, done := m.conn, m.cancel, m.done
	m.conn, m.cancel, m.done = nil, nil, nil
	if m.initializing && m.abortInit != nil {
		m.aborted = true
		m.abortInit()
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	<-done
	m.transition(status.Closed)
	m.logger.Info("channel closed")
}

// IsConnected reports whether a joined channel is live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// LastSeq returns the highest sequence number applied so far.
func (m *Manager) LastSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq
}

func (m *Manager) dial(ctx context.Context, id Identity) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	header := http.Header{}
	if id.Token != "" {
		header.Set("Authorization", "Bearer "+id.Token)
	}
	conn, _, err := websocket.Dial(dialCtx, m.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	conn.SetReadLimit(m.readLimit)
	return conn, nil
}

// resumeSeq returns the sequence to resume from, reloading the checkpoint when
// the tenant changed or nothing was applied in this process yet.
func (m *Manager) resumeSeq(companyID int64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.companyID != companyID {
		m.companyID = companyID
		m.lastSeq = 0
	}
	if m.lastSeq == 0 && m.checkpoints != nil {
		seq, err := m.checkpoints.LastSeq(companyID)
		if err != nil {
			m.logger.Warn("load sequence checkpoint", zap.Error(err))
		} else {
			m.lastSeq = seq
		}
	}
	return m.lastSeq
}

func (m *Manager) readPump(ctx context.Context, conn *websocket.Conn, done chan struct{}, rejoin bool) {
	defer close(done)

	if rejoin {
		m.dispatch(EventResync, nil)
	}

	var readErr error
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			readErr = err
			break
		}
		if typ != websocket.MessageText {
			m.logger.Warn("binary frame ignored", zap.Int("bytes", len(data)))
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.logger.Warn("undecodable frame", zap.Error(err))
			continue
		}
		if !m.advance(f) {
			continue
		}
		m.dispatch(f.Event, f.Data)
	}

	m.mu.Lock()
	lost := m.conn == conn
	if lost {
		m.conn, m.cancel, m.done = nil, nil, nil
		m.initializing = false
	}
	m.mu.Unlock()

	if !lost {
		return
	}
	_ = conn.CloseNow()
	m.logger.Warn("channel lost", zap.Error(readErr))
	m.transition(status.Disconnected)
	m.dispatch(EventDisconnect, nil)
}

// advance applies the sequence number of f. It returns false for frames at or
// below the last applied sequence, and raises a resync when a gap is seen.
func (m *Manager) advance(f Frame) bool {
	if f.Seq == 0 {
		return true
	}
	m.mu.Lock()
	last := m.lastSeq
	if f.Seq <= last {
		m.mu.Unlock()
		m.logger.Debug("stale frame dropped", zap.String("event", f.Event), zap.Uint64("seq", f.Seq))
		return false
	}
	m.lastSeq = f.Seq
	companyID := m.companyID
	m.mu.Unlock()

	if m.checkpoints != nil {
		if err := m.checkpoints.SaveLastSeq(companyID, f.Seq); err != nil {
			m.logger.Warn("save sequence checkpoint", zap.Error(err))
		}
	}
	if last > 0 && f.Seq > last+1 {
		m.logger.Warn("sequence gap", zap.Uint64("last", last), zap.Uint64("seq", f.Seq))
		m.dispatch(EventResync, nil)
	}
	return true
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	hs := append([]Handler(nil), m.handlers[event]...)
	m.mu.Unlock()

	if len(hs) == 0 {
		if event != EventResync && event != EventDisconnect {
			m.logger.Warn("unhandled event", zap.String("event", event))
		}
		return
	}
	for _, h := range hs {
		h(data)
	}
}

func (m *Manager) transition(to status.State) {
	if m.machine == nil {
		return
	}
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("status transition", zap.Error(err))
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

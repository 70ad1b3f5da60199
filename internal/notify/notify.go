// Package notify surfaces transient, user-visible notices such as failed sends
// and failed fetches.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/bus"
)

// DefaultTTL is how long a notice stays visible.
const DefaultTTL = 5 * time.Second

// Flash holds the most recent notice until it expires.
type Flash struct {
	mu      sync.RWMutex
	message string
	expires time.Time
}

// Set stores a flash message that expires after the given duration.
func (f *Flash) Set(msg string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.expires = time.Now().Add(d)
}

// Get returns the current flash message, or empty if expired.
func (f *Flash) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if time.Now().After(f.expires) {
		return ""
	}
	return f.message
}

// Notice is the payload of a notice.error event.
type Notice struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Notifier records notices in a Flash and publishes them on the bus.
type Notifier struct {
	flash  Flash
	ttl    time.Duration
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a Notifier. b and logger may be nil.
func New(b *bus.Bus, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{ttl: DefaultTTL, bus: b, logger: logger}
}

// Error shows msg to the user and logs err.
func (n *Notifier) Error(msg string, err error) {
	if n == nil {
		return
	}
	nt := Notice{Message: msg}
	if err != nil {
		nt.Error = err.Error()
	}
	n.logger.Error(msg, zap.Error(err))
	n.flash.Set(msg, n.ttl)
	n.bus.Emit(bus.KindNoticeError, nt)
}

// Current returns the visible notice, or empty.
func (n *Notifier) Current() string {
	if n == nil {
		return ""
	}
	return n.flash.Get()
}

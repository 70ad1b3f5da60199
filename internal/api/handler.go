// Package api serves the daemon's local control API: chi routes over the chat
// store, the connection state and the event bus.
package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/chatstore"
	"github.com/matheus3301/crmsync/internal/domain"
	"github.com/matheus3301/crmsync/internal/status"
)

// Store is the chat store surface the API drives.
type Store interface {
	Initialize(ctx context.Context) error
	Snapshot() chatstore.Snapshot
	FetchTickets(ctx context.Context, q chatstore.Query) error
	FetchMoreTickets(ctx context.Context) error
	SetTab(ctx context.Context, tab domain.TicketStatus) error
	SetFilters(ctx context.Context, f chatstore.Filters) error
	RemoveTicket(id int64)
	UpdateChat(ctx context.Context, t domain.Ticket) error
	SelectTicket(ctx context.Context, id int64) error
	AcceptTicket(ctx context.Context, id int64) error
	FetchMessages(ctx context.Context, page int) error
	FetchMoreMessages(ctx context.Context) error
	SendMessage(ctx context.Context, text string) (domain.Message, error)
	RetryMessage(ctx context.Context, id string) error
	Resync(ctx context.Context) error
}

// Handler holds the dependencies of the API routes.
type Handler struct {
	profile   string
	startedAt time.Time
	store     Store
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewHandler creates the API handler for a profile's daemon.
func NewHandler(profile string, s Store, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		profile:   profile,
		startedAt: time.Now(),
		store:     s,
		machine:   m,
		bus:       b,
		logger:    logger,
	}
}

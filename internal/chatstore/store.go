// Package chatstore is the real-time ticket and conversation cache. It folds
// paginated REST fetches, optimistic sends and live channel events into one
// consistent state that callers read through Snapshot.
package chatstore

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/backend"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/domain"
	"github.com/matheus3301/crmsync/internal/notify"
	"github.com/matheus3301/crmsync/internal/outbox"
	"github.com/matheus3301/crmsync/internal/realtime"
	"github.com/matheus3301/crmsync/internal/store"
)

var (
	ErrNoSelection    = errors.New("no ticket selected")
	ErrTicketNotFound = errors.New("ticket not in cache")
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrUnknownMessage = errors.New("no failed message with that id")
)

// Remote is the slice of the REST API the store reads and writes through.
type Remote interface {
	FetchTicketsPage(ctx context.Context, q backend.TicketQuery) (*backend.TicketsPage, error)
	FetchMessagesPage(ctx context.Context, contactChannelID int64, page int) (*backend.MessagesPage, error)
	UpdateTicketStatus(ctx context.Context, ticketID int64, st domain.TicketStatus) (*domain.Ticket, error)
}

// Outbox journals and delivers optimistic sends.
type Outbox interface {
	Send(ctx context.Context, e outbox.Entry) error
	Retry(ctx context.Context, clientMsgID string) error
	Confirm(clientMsgID, serverMsgID string) error
	Unconfirmed(ticketID int64) ([]store.OutboxEntry, error)
}

// Counters is the debounced aggregate counters service.
type Counters interface {
	Trigger()
	Refresh(ctx context.Context) error
	Set(c domain.Counters)
	Get() domain.Counters
}

// Channel is the live event channel.
type Channel interface {
	Initialize(ctx context.Context) error
	IsConnected() bool
	On(event string, h realtime.Handler)
}

// Filters narrow the ticket list of a tab.
type Filters struct {
	KanbanStepID  *int64 `json:"kanbanStepId,omitempty"`
	ResponsibleID *int64 `json:"responsibleId,omitempty"`
	OnlyActive    bool   `json:"onlyActive,omitempty"`
}

// Equal reports whether f and o select the same tickets.
func (f Filters) Equal(o Filters) bool {
	return equalPtr(f.KanbanStepID, o.KanbanStepID) &&
		equalPtr(f.ResponsibleID, o.ResponsibleID) &&
		f.OnlyActive == o.OnlyActive
}

func equalPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Options configures a Store.
type Options struct {
	Remote   Remote
	Outbox   Outbox
	Counters Counters
	Channel  Channel
	Notifier *notify.Notifier
	Bus      *bus.Bus
	Logger   *zap.Logger
	PageSize int
}

// Store is the chat cache. All mutations happen under one mutex; remote calls
// are made without it held.
type Store struct {
	remote   Remote
	outbox   Outbox
	counters Counters
	channel  Channel
	notifier *notify.Notifier
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu sync.Mutex

	tab                domain.TicketStatus
	filters            Filters
	tickets            []domain.Ticket
	nextCursor         string
	hasMoreTickets     bool
	loadingTickets     bool
	loadingMoreTickets bool
	listGen            uint64

	selected            *domain.Ticket
	messages            []domain.Message
	messagePage         int
	hasMoreMessages     bool
	loadingMessages     bool
	loadingMoreMessages bool
	selGen              uint64
}

// New creates a Store and registers its handlers on the channel.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		remote:   opts.Remote,
		outbox:   opts.Outbox,
		counters: opts.Counters,
		channel:  opts.Channel,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		logger:   logger,
		pageSize: opts.PageSize,
		ctx:      ctx,
		cancel:   cancel,
	}
	if s.channel != nil {
		s.channel.On(realtime.EventNewTicket, s.onNewTicket)
		s.channel.On(realtime.EventNewMessage, s.onNewMessage)
		s.channel.On(realtime.EventTicketCountsUpdate, s.onTicketCountsUpdate)
		s.channel.On(realtime.EventTicketStatusChanged, s.onTicketStatusChanged)
		s.channel.On(realtime.EventDisconnect, s.onDisconnect)
		s.channel.On(realtime.EventResync, s.onResync)
	}
	return s
}

// Initialize opens the live channel. Repeated calls are absorbed by the channel.
func (s *Store) Initialize(ctx context.Context) error {
	if s.channel == nil {
		return nil
	}
	return s.channel.Initialize(ctx)
}

// Close stops background work started by live events and waits for it.
func (s *Store) Close() {
	s.cancel()
	s.tasks.Wait()
}

// Snapshot is an immutable copy of the store's state.
type Snapshot struct {
	Tab                 domain.TicketStatus `json:"tab"`
	Filters             Filters             `json:"filters"`
	Tickets             []domain.Ticket     `json:"tickets"`
	HasMoreTickets      bool                `json:"hasMoreTickets"`
	LoadingTickets      bool                `json:"loadingTickets"`
	LoadingMoreTickets  bool                `json:"loadingMoreTickets"`
	Selected            *domain.Ticket      `json:"selected,omitempty"`
	Messages            []domain.Message    `json:"messages"`
	MessagePage         int                 `json:"messagePage"`
	HasMoreMessages     bool                `json:"hasMoreMessages"`
	LoadingMessages     bool                `json:"loadingMessages"`
	LoadingMoreMessages bool                `json:"loadingMoreMessages"`
	Counters            domain.Counters     `json:"counters"`
	Connected           bool                `json:"connected"`
	Notice              string              `json:"notice,omitempty"`
}

// Snapshot returns the current state with messages in ascending timestamp order.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Tab:                 s.tab,
		Filters:             s.filters,
		Tickets:             make([]domain.Ticket, 0, len(s.tickets)),
		HasMoreTickets:      s.hasMoreTickets,
		LoadingTickets:      s.loadingTickets,
		LoadingMoreTickets:  s.loadingMoreTickets,
		Messages:            slices.Clone(s.messages),
		MessagePage:         s.messagePage,
		HasMoreMessages:     s.hasMoreMessages,
		LoadingMessages:     s.loadingMessages,
		LoadingMoreMessages: s.loadingMoreMessages,
	}
	for _, t := range s.tickets {
		snap.Tickets = append(snap.Tickets, t.Clone())
	}
	if s.selected != nil {
		sel := s.selected.Clone()
		snap.Selected = &sel
	}
	s.mu.Unlock()

	if snap.Messages == nil {
		snap.Messages = []domain.Message{}
	}
	slices.SortStableFunc(snap.Messages, compareTimestamp)
	if s.counters != nil {
		snap.Counters = s.counters.Get()
	}
	if s.channel != nil {
		snap.Connected = s.channel.IsConnected()
	}
	snap.Notice = s.notifier.Current()
	return snap
}

func (s *Store) changed(what string) {
	s.bus.Emit(bus.KindStoreChanged, what)
}

func (s *Store) notifyError(msg string, err error) {
	if s.notifier == nil {
		s.logger.Error(msg, zap.Error(err))
		return
	}
	s.notifier.Error(msg, err)
}

func (s *Store) triggerCounters() {
	if s.counters != nil {
		s.counters.Trigger()
	}
}

// goTask runs fn in the background under the store's lifetime context.
func (s *Store) goTask(fn func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn(s.ctx)
	}()
}

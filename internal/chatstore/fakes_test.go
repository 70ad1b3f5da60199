package chatstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/matheus3301/crmsync/internal/backend"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/domain"
	"github.com/matheus3301/crmsync/internal/notify"
	"github.com/matheus3301/crmsync/internal/outbox"
	"github.com/matheus3301/crmsync/internal/realtime"
	"github.com/matheus3301/crmsync/internal/store"
)

// fakeRemote serves canned pages. A gate for a status blocks its ticket
// fetches until the channel is closed.
type fakeRemote struct {
	mu           sync.Mutex
	tickets      map[domain.TicketStatus][]*backend.TicketsPage
	ticketGates  map[domain.TicketStatus]chan struct{}
	ticketCalls  []backend.TicketQuery
	ticketErr    error
	messages     map[int64][]*backend.MessagesPage
	messageGate  chan struct{}
	messageCalls []int
	messageErr   error
	statusCalls  []domain.StatusChange
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tickets:     map[domain.TicketStatus][]*backend.TicketsPage{},
		ticketGates: map[domain.TicketStatus]chan struct{}{},
		messages:    map[int64][]*backend.MessagesPage{},
	}
}

func (f *fakeRemote) FetchTicketsPage(ctx context.Context, q backend.TicketQuery) (*backend.TicketsPage, error) {
	f.mu.Lock()
	f.ticketCalls = append(f.ticketCalls, q)
	gate := f.ticketGates[q.Status]
	err := f.ticketErr
	pages := f.tickets[q.Status]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	idx := 0
	if q.Cursor != "" {
		for i, p := range pages {
			if p.Meta.NextCursor == q.Cursor {
				idx = i + 1
			}
		}
	}
	if idx >= len(pages) {
		return &backend.TicketsPage{}, nil
	}
	return pages[idx], nil
}

func (f *fakeRemote) FetchMessagesPage(ctx context.Context, channelID int64, page int) (*backend.MessagesPage, error) {
	f.mu.Lock()
	f.messageCalls = append(f.messageCalls, page)
	gate := f.messageGate
	err := f.messageErr
	pages := f.messages[channelID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if page-1 >= len(pages) {
		return &backend.MessagesPage{}, nil
	}
	return pages[page-1], nil
}

func (f *fakeRemote) UpdateTicketStatus(ctx context.Context, id int64, st domain.TicketStatus) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, domain.StatusChange{TicketID: id, NewStatus: st})
	return &domain.Ticket{ID: id, Status: st, ContactChannelID: id * 10, KanbanStep: &domain.KanbanStep{ID: 1}}, nil
}

func (f *fakeRemote) ticketCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticketCalls)
}

func (f *fakeRemote) messageCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messageCalls)
}

type fakeOutbox struct {
	mu        sync.Mutex
	sent      []outbox.Entry
	retried   []string
	confirmed map[string]string
	pending   []store.OutboxEntry
	err       error
}

func (o *fakeOutbox) Send(ctx context.Context, e outbox.Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, e)
	return o.err
}

func (o *fakeOutbox) Retry(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retried = append(o.retried, id)
	return o.err
}

func (o *fakeOutbox) Confirm(clientID, serverID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.confirmed == nil {
		o.confirmed = map[string]string{}
	}
	o.confirmed[clientID] = serverID
	return nil
}

func (o *fakeOutbox) Unconfirmed(ticketID int64) ([]store.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []store.OutboxEntry
	for _, e := range o.pending {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCounters struct {
	mu        sync.Mutex
	triggers  int
	refreshes int
	value     domain.Counters
}

func (c *fakeCounters) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers++
}

func (c *fakeCounters) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return nil
}

func (c *fakeCounters) Set(v domain.Counters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

func (c *fakeCounters) Get() domain.Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *fakeCounters) triggerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggers
}

// fakeChannel delivers events synchronously to the registered handlers.
type fakeChannel struct {
	handlers  map[string][]realtime.Handler
	initCalls int
}

func (c *fakeChannel) Initialize(context.Context) error { c.initCalls++; return nil }
func (c *fakeChannel) IsConnected() bool                { return c.initCalls > 0 }
func (c *fakeChannel) On(event string, h realtime.Handler) {
	if c.handlers == nil {
		c.handlers = map[string][]realtime.Handler{}
	}
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *fakeChannel) emit(t *testing.T, event string, payload any) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		data = b
	}
	for _, h := range c.handlers[event] {
		h(data)
	}
}

type harness struct {
	store    *Store
	remote   *fakeRemote
	outbox   *fakeOutbox
	counters *fakeCounters
	channel  *fakeChannel
	bus      *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		remote:   newFakeRemote(),
		outbox:   &fakeOutbox{},
		counters: &fakeCounters{},
		channel:  &fakeChannel{},
		bus:      bus.New(),
	}
	h.store = New(Options{
		Remote:   h.remote,
		Outbox:   h.outbox,
		Counters: h.counters,
		Channel:  h.channel,
		Notifier: notify.New(h.bus, nil),
		Bus:      h.bus,
		PageSize: 30,
	})
	t.Cleanup(h.store.Close)
	return h
}

func step(id int64) *domain.KanbanStep {
	return &domain.KanbanStep{ID: id, Name: "Lead"}
}

func ticket(id int64, st domain.TicketStatus) domain.Ticket {
	return domain.Ticket{ID: id, Status: st, ContactChannelID: id * 10, KanbanStep: step(1)}
}

func ticketPage(cursor string, more bool, ts ...domain.Ticket) *backend.TicketsPage {
	return &backend.TicketsPage{Data: ts, Meta: backend.CursorMeta{NextCursor: cursor, HasNextPage: more}}
}

func rawMsg(id string, fromMe bool, content string, ts int64) domain.RawMessage {
	return domain.RawMessage{Key: domain.RawKey{ID: id, FromMe: fromMe}, Content: content, Timestamp: ts}
}

func msgPage(hasNext bool, msgs ...domain.RawMessage) *backend.MessagesPage {
	return &backend.MessagesPage{Data: msgs, Meta: backend.PageMeta{HasNext: hasNext}}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func ticketIDs(ts []domain.Ticket) []int64 {
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

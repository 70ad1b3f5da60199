package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/store"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	calls []sendCall
	err   error
}

type sendCall struct {
	ChannelID int64
	Text      string
}

func (m *mockSender) SendText(_ context.Context, channelID int64, text string) error {
	m.calls = append(m.calls, sendCall{ChannelID: channelID, Text: text})
	return m.err
}

type sendFunc func(ctx context.Context, channelID int64, text string) error

func (f sendFunc) SendText(ctx context.Context, channelID int64, text string) error {
	return f(ctx, channelID, text)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSendMarksSent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, logger)

	ch, unsub := b.Subscribe(bus.KindOutboxSendAck, 10)
	defer unsub()

	err := s.Send(context.Background(), Entry{ClientMsgID: "tmp-1", TicketID: 7, ContactChannelID: 70, Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(mock.calls) != 1 || mock.calls[0] != (sendCall{ChannelID: 70, Text: "hello"}) {
		t.Fatalf("calls = %+v", mock.calls)
	}

	e, err := db.GetOutbox("tmp-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.OutboxSent {
		t.Errorf("status = %q, want sent", e.Status)
	}

	select {
	case evt := <-ch:
		p := evt.Payload.(map[string]string)
		if p["client_msg_id"] != "tmp-1" {
			t.Errorf("ack payload = %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send_ack event")
	}
}

func TestSendFailureAndRetry(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{err: errors.New("network down")}
	s := NewSender(db, mock, b, zap.NewNop())

	ch, unsub := b.Subscribe(bus.KindOutboxSendFailed, 10)
	defer unsub()

	err := s.Send(context.Background(), Entry{ClientMsgID: "tmp-2", TicketID: 7, ContactChannelID: 70, Body: "x"})
	if err == nil {
		t.Fatal("Send() expected error")
	}
	e, _ := db.GetOutbox("tmp-2")
	if e.Status != store.OutboxFailed || e.ErrorMessage != "network down" {
		t.Errorf("entry = %+v", e)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send_failed event")
	}

	mock.err = nil
	if err := s.Retry(context.Background(), "tmp-2"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	e, _ = db.GetOutbox("tmp-2")
	if e.Status != store.OutboxSent || e.Attempts != 2 {
		t.Errorf("after retry = %+v", e)
	}
	if len(mock.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(mock.calls))
	}
}

func TestRetryRejectsSentEntry(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockSender{}, nil, nil)
	if err := s.Send(context.Background(), Entry{ClientMsgID: "tmp-3", TicketID: 1, ContactChannelID: 1, Body: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Retry(context.Background(), "tmp-3"); err == nil {
		t.Error("Retry() of a sent entry should fail")
	}
}

func TestConfirmAndUnconfirmed(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockSender{}, bus.New(), nil)
	ctx := context.Background()
	for _, id := range []string{"tmp-a", "tmp-b"} {
		if err := s.Send(ctx, Entry{ClientMsgID: id, TicketID: 9, ContactChannelID: 90, Body: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Confirm("tmp-a", "srv-a"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Unconfirmed(9)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ClientMsgID != "tmp-b" {
		t.Errorf("Unconfirmed() = %+v", got)
	}

	n, err := s.Prune(-time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}

func TestEchoBeforeSendReturnsKeepsConfirmation(t *testing.T) {
	db := testDB(t)
	core, logs := observer.New(zap.WarnLevel)
	var s *Sender
	s = NewSender(db, sendFunc(func(context.Context, int64, string) error {
		return s.Confirm("tmp-4", "srv-4")
	}), bus.New(), zap.New(core))

	if err := s.Send(context.Background(), Entry{ClientMsgID: "tmp-4", TicketID: 3, ContactChannelID: 30, Body: "hey"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	e, _ := db.GetOutbox("tmp-4")
	if e.Status != store.OutboxConfirmed || e.ServerMsgID != "srv-4" {
		t.Errorf("entry = %+v, want confirmed as srv-4", e)
	}
	if got, _ := s.Unconfirmed(3); len(got) != 0 {
		t.Errorf("Unconfirmed() = %+v, want none", got)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected warnings: %v", logs.All())
	}
}

func TestSendErrorAfterEchoIsNotAFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	var s *Sender
	s = NewSender(db, sendFunc(func(context.Context, int64, string) error {
		if err := s.Confirm("tmp-5", "srv-5"); err != nil {
			return err
		}
		return context.DeadlineExceeded
	}), b, zap.NewNop())

	ch, unsub := b.Subscribe(bus.KindOutboxSendFailed, 1)
	defer unsub()

	if err := s.Send(context.Background(), Entry{ClientMsgID: "tmp-5", TicketID: 3, ContactChannelID: 30, Body: "hey"}); err != nil {
		t.Fatalf("Send() error = %v, want nil once the echo confirmed it", err)
	}
	if e, _ := db.GetOutbox("tmp-5"); e.Status != store.OutboxConfirmed {
		t.Errorf("status = %q, want confirmed", e.Status)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected %s event", evt.Kind)
	default:
	}
}

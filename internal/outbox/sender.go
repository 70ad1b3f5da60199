// Package outbox journals optimistic sends so a failed message can be retried
// and pending ones survive a restart of the daemon.
package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/store"
)

// TextSender delivers a text message on a contact channel.
type TextSender interface {
	SendText(ctx context.Context, contactChannelID int64, text string) error
}

// Entry describes one outbound text message.
type Entry struct {
	ClientMsgID      string
	TicketID         int64
	ContactChannelID int64
	Body             string
	CreatedAt        int64
}

// Sender records sends in the outbox table and pushes them to the backend.
type Sender struct {
	db     *store.DB
	sender TextSender
	bus    *bus.Bus
	logger *zap.Logger
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		sender: sender,
		bus:    b,
		logger: logger,
	}
}

// Send journals e as pending and delivers it. A delivery failure is recorded
// on the entry and returned.
func (s *Sender) Send(ctx context.Context, e Entry) error {
	rec := &store.OutboxEntry{
		ClientMsgID:      e.ClientMsgID,
		TicketID:         e.TicketID,
		ContactChannelID: e.ContactChannelID,
		Body:             e.Body,
		CreatedAt:        e.CreatedAt,
	}
	if err := s.db.QueueOutbox(rec); err != nil {
		return fmt.Errorf("queue outbox: %w", err)
	}
	return s.deliver(ctx, rec)
}

// Retry re-sends a failed entry.
func (s *Sender) Retry(ctx context.Context, clientMsgID string) error {
	if err := s.db.MarkOutboxRetrying(clientMsgID); err != nil {
		return fmt.Errorf("retry outbox: %w", err)
	}
	rec, err := s.db.GetOutbox(clientMsgID)
	if err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("outbox entry %q vanished", clientMsgID)
	}
	return s.deliver(ctx, rec)
}

// Confirm marks an entry as matched by its echo on the live channel.
func (s *Sender) Confirm(clientMsgID, serverMsgID string) error {
	if err := s.db.MarkOutboxConfirmed(clientMsgID, serverMsgID); err != nil {
		return fmt.Errorf("confirm outbox: %w", err)
	}
	s.bus.Emit(bus.KindOutboxConfirmed, map[string]string{
		"client_msg_id": clientMsgID,
		"server_msg_id": serverMsgID,
	})
	return nil
}

// Unconfirmed returns a ticket's entries still waiting for an echo.
func (s *Sender) Unconfirmed(ticketID int64) ([]store.OutboxEntry, error) {
	entries, err := s.db.UnconfirmedOutbox(ticketID)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	return entries, nil
}

// Prune drops confirmed entries older than maxAge.
func (s *Sender) Prune(maxAge time.Duration) (int64, error) {
	return s.db.PruneOutbox(time.Now().Add(-maxAge).UnixMilli())
}

func (s *Sender) deliver(ctx context.Context, rec *store.OutboxEntry) error {
	if err := s.sender.SendText(ctx, rec.ContactChannelID, rec.Body); err != nil {
		// The echo is proof of delivery, whatever the reply said.
		if cur, getErr := s.db.GetOutbox(rec.ClientMsgID); getErr == nil && cur != nil && cur.Status == store.OutboxConfirmed {
			s.logger.Warn("send failed after its echo arrived", zap.Error(err), zap.String("client_msg_id", rec.ClientMsgID))
			return nil
		}
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", rec.ClientMsgID))
		if markErr := s.db.MarkOutboxFailed(rec.ClientMsgID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark failed", zap.Error(markErr), zap.String("client_msg_id", rec.ClientMsgID))
		}
		s.bus.Emit(bus.KindOutboxSendFailed, map[string]string{
			"client_msg_id": rec.ClientMsgID,
			"error":         err.Error(),
		})
		return err
	}

	if err := s.db.MarkOutboxSent(rec.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", rec.ClientMsgID))
	}
	s.logger.Info("message sent",
		zap.String("client_msg_id", rec.ClientMsgID),
		zap.Int64("ticket_id", rec.TicketID),
		zap.Int("attempt", rec.Attempts),
	)
	s.bus.Emit(bus.KindOutboxSendAck, map[string]string{"client_msg_id": rec.ClientMsgID})
	return nil
}

package chatstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/domain"
	"github.com/matheus3301/crmsync/internal/outbox"
)

type confirmation struct {
	clientID string
	serverID string
}

// SendMessage inserts text into the selected conversation as a pending message
// and sends it. On failure the message stays in place marked failed and a
// notice is shown; the echo from the live channel confirms it otherwise.
func (s *Store) SendMessage(ctx context.Context, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return domain.Message{}, ErrNoSelection
	}
	now := time.Now().UnixMilli()
	msg := domain.Message{
		ID:        fmt.Sprintf("%s%d-%s", domain.TempIDPrefix, now, uuid.NewString()[:8]),
		TicketID:  s.selected.ID,
		FromMe:    true,
		Kind:      domain.MediaText,
		Content:   text,
		Timestamp: now,
		Delivery:  domain.DeliveryPending,
	}
	channelID := s.selected.ContactChannelID
	s.messages = append(s.messages, msg)
	s.setLastMessageLocked(msg, true)
	s.mu.Unlock()
	s.changed("messages")

	err := s.outbox.Send(ctx, outbox.Entry{
		ClientMsgID:      msg.ID,
		TicketID:         msg.TicketID,
		ContactChannelID: channelID,
		Body:             text,
		CreatedAt:        now,
	})
	if err != nil {
		s.setDelivery(msg.ID, domain.DeliveryFailed)
		s.notifyError("Failed to send message", err)
		msg.Delivery = domain.DeliveryFailed
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// RetryMessage re-sends a message whose delivery failed.
func (s *Store) RetryMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.messageIndexLocked(id)
	if idx < 0 || s.messages[idx].Delivery != domain.DeliveryFailed {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	s.messages[idx].Delivery = domain.DeliveryPending
	s.mu.Unlock()
	s.changed("messages")

	if err := s.outbox.Retry(ctx, id); err != nil {
		s.setDelivery(id, domain.DeliveryFailed)
		s.notifyError("Failed to send message", err)
		return fmt.Errorf("retry message: %w", err)
	}
	return nil
}

// setDelivery updates a message that is still pending. A message already
// confirmed by its echo is left alone.
func (s *Store) setDelivery(id string, d domain.DeliveryState) {
	s.mu.Lock()
	idx := s.messageIndexLocked(id)
	if idx < 0 || s.messages[idx].Delivery == domain.DeliveryConfirmed {
		s.mu.Unlock()
		return
	}
	s.messages[idx].Delivery = d
	s.mu.Unlock()
	s.changed("messages")
}

func (s *Store) confirmSends(cs []confirmation) {
	if s.outbox == nil {
		return
	}
	for _, c := range cs {
		if err := s.outbox.Confirm(c.clientID, c.serverID); err != nil {
			s.logger.Warn("confirm outbox entry", zap.Error(err), zap.String("client_msg_id", c.clientID))
		}
	}
}

// setLastMessageLocked updates the summary on the list entry and on the
// selection mirror. Older messages never replace a newer summary.
func (s *Store) setLastMessageLocked(m domain.Message, read bool) {
	summary := m.Summary(read)
	apply := func(t *domain.Ticket) {
		if t.LastMessage != nil && t.LastMessage.Timestamp > summary.Timestamp {
			return
		}
		lm := summary
		t.LastMessage = &lm
	}
	if idx := s.ticketIndexLocked(m.TicketID); idx >= 0 {
		apply(&s.tickets[idx])
	}
	if s.selected != nil && s.selected.ID == m.TicketID {
		apply(s.selected)
	}
}

func (s *Store) messageIndexLocked(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

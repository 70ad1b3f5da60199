package chatstore

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/domain"
	"github.com/matheus3301/crmsync/internal/store"
)

// SelectChat makes t the selection, marks it read locally and loads the first
// page of its messages. The previous message log is discarded.
func (s *Store) SelectChat(ctx context.Context, t domain.Ticket) error {
	if t.KanbanStep == nil {
		s.logger.Warn("selected ticket without kanban step", zap.Int64("ticket_id", t.ID))
	}

	s.mu.Lock()
	sel := t.Clone()
	if sel.LastMessage != nil {
		sel.LastMessage.Read = true
	}
	if idx := s.ticketIndexLocked(t.ID); idx >= 0 && s.tickets[idx].LastMessage != nil {
		s.tickets[idx].LastMessage.Read = true
	}
	s.clearSelectionLocked()
	s.selected = &sel
	s.mu.Unlock()
	s.changed("selection")

	return s.FetchMessages(ctx, 1)
}

// SelectTicket selects a cached ticket by id.
func (s *Store) SelectTicket(ctx context.Context, id int64) error {
	t, err := s.Ticket(id)
	if err != nil {
		return err
	}
	return s.SelectChat(ctx, t)
}

// FetchMessages loads a page of the selected ticket's messages. Page one
// replaces the log, keeping local sends that are not confirmed yet; later pages
// are older and go in front of what is loaded.
func (s *Store) FetchMessages(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}

	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return ErrNoSelection
	}
	if page == 1 {
		if s.loadingMessages {
			s.mu.Unlock()
			return nil
		}
		s.loadingMessages = true
	} else {
		if s.loadingMoreMessages {
			s.mu.Unlock()
			return nil
		}
		s.loadingMoreMessages = true
	}
	gen := s.selGen
	ticketID := s.selected.ID
	channelID := s.selected.ContactChannelID
	s.mu.Unlock()
	s.changed("messages")

	resp, err := s.remote.FetchMessagesPage(ctx, channelID, page)

	var local []domain.Message
	if err == nil && page == 1 {
		local = s.unconfirmedSends(ticketID)
	}

	s.mu.Lock()
	if gen != s.selGen {
		s.mu.Unlock()
		s.logger.Debug("stale message page discarded", zap.Int64("ticket_id", ticketID), zap.Int("page", page))
		return nil
	}
	if page == 1 {
		s.loadingMessages = false
	} else {
		s.loadingMoreMessages = false
	}
	if err != nil {
		s.mu.Unlock()
		s.changed("messages")
		s.notifyError("Failed to load messages", err)
		return fmt.Errorf("fetch messages: %w", err)
	}

	fetched := make([]domain.Message, 0, len(resp.Data))
	for _, raw := range resp.Data {
		m := domain.NormalizeMessage(raw)
		if m.TicketID == 0 {
			m.TicketID = ticketID
		}
		fetched = append(fetched, m)
	}

	var confirmed []confirmation
	if page == 1 {
		var newest int64
		for _, m := range fetched {
			newest = max(newest, m.Timestamp)
		}
		// Live messages newer than the page arrived while it was in flight.
		var live []domain.Message
		for _, m := range s.messages {
			switch {
			case containsID(fetched, m.ID):
			case m.Delivery != domain.DeliveryConfirmed:
				if !containsID(local, m.ID) {
					local = append(local, m)
				}
			case m.Timestamp >= newest:
				live = append(live, m)
			}
		}
		// An echo that came in live while the page was loading confirms
		// its local send like one in the page.
		n := len(fetched)
		var merged []domain.Message
		merged, confirmed = mergeFirstPage(append(fetched, live...), local)
		s.messages = append(merged[:n:n], merged[n+len(live):]...)
		s.messages = append(s.messages, live...)
		s.messagePage = 1
	} else {
		older := make([]domain.Message, 0, len(fetched))
		for _, m := range fetched {
			if !containsID(s.messages, m.ID) {
				older = append(older, m)
			}
		}
		var kept []domain.Message
		kept, confirmed = absorbEchoes(s.messages, older)
		s.messages = append(older, kept...)
		s.messagePage = page
	}
	s.hasMoreMessages = resp.Meta.HasNext
	s.mu.Unlock()

	s.changed("messages")
	s.confirmSends(confirmed)
	return nil
}

// FetchMoreMessages loads the next older page, if there is one.
func (s *Store) FetchMoreMessages(ctx context.Context) error {
	s.mu.Lock()
	if s.selected == nil || !s.hasMoreMessages || s.loadingMoreMessages {
		s.mu.Unlock()
		return nil
	}
	next := s.messagePage + 1
	s.mu.Unlock()
	return s.FetchMessages(ctx, next)
}

// unconfirmedSends rebuilds the optimistic messages of a ticket from the outbox.
func (s *Store) unconfirmedSends(ticketID int64) []domain.Message {
	if s.outbox == nil {
		return nil
	}
	entries, err := s.outbox.Unconfirmed(ticketID)
	if err != nil {
		s.logger.Warn("load unconfirmed sends", zap.Error(err), zap.Int64("ticket_id", ticketID))
		return nil
	}
	out := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		delivery := domain.DeliveryPending
		if e.Status == store.OutboxFailed {
			delivery = domain.DeliveryFailed
		}
		out = append(out, domain.Message{
			ID:        e.ClientMsgID,
			TicketID:  e.TicketID,
			FromMe:    true,
			Kind:      domain.MediaText,
			Content:   e.Body,
			Timestamp: e.CreatedAt,
			Delivery:  delivery,
		})
	}
	return out
}

// mergeFirstPage combines a fresh first page with local sends. A local send
// whose echo is already in the page is dropped and reported as confirmed.
func mergeFirstPage(fetched, local []domain.Message) ([]domain.Message, []confirmation) {
	merged := slices.Clone(fetched)
	used := make(map[int]bool)
	var confirmed []confirmation

	slices.SortStableFunc(local, func(a, b domain.Message) int { return compareTimestamp(a, b) })
	for _, m := range local {
		idx := slices.IndexFunc(merged, func(f domain.Message) bool {
			return f.ID == m.ID
		})
		if idx < 0 {
			idx = echoIndex(merged, m, used)
		}
		if idx >= 0 {
			used[idx] = true
			if m.Temporary() && merged[idx].ID != m.ID {
				confirmed = append(confirmed, confirmation{clientID: m.ID, serverID: merged[idx].ID})
			}
			continue
		}
		merged = append(merged, m)
	}
	return merged, confirmed
}

// absorbEchoes drops the local sends whose echo is in an older page and
// reports them as confirmed.
func absorbEchoes(msgs, older []domain.Message) ([]domain.Message, []confirmation) {
	local := slices.Clone(msgs)
	slices.SortStableFunc(local, func(a, b domain.Message) int { return compareTimestamp(a, b) })
	used := make(map[int]bool)
	echoed := make(map[string]bool)
	var confirmed []confirmation
	for _, m := range local {
		if !m.Temporary() || m.Delivery == domain.DeliveryConfirmed {
			continue
		}
		if idx := echoIndex(older, m, used); idx >= 0 {
			used[idx] = true
			echoed[m.ID] = true
			confirmed = append(confirmed, confirmation{clientID: m.ID, serverID: older[idx].ID})
		}
	}
	if len(echoed) == 0 {
		return msgs, nil
	}
	kept := make([]domain.Message, 0, len(msgs)-len(echoed))
	for _, m := range msgs {
		if !echoed[m.ID] {
			kept = append(kept, m)
		}
	}
	return kept, confirmed
}

// echoSkew is how far a server timestamp may trail the local clock and still
// count as the echo of a local send.
const echoSkew = 60_000

// echoIndex finds an unused fromMe message in page with the same content as m
// that is not clearly older than it.
func echoIndex(page []domain.Message, m domain.Message, used map[int]bool) int {
	for i, f := range page {
		if used[i] || !f.FromMe || f.Content != m.Content || f.Timestamp < m.Timestamp-echoSkew {
			continue
		}
		return i
	}
	return -1
}

func (s *Store) clearSelectionLocked() {
	s.selected = nil
	s.selGen++
	s.messages = nil
	s.messagePage = 0
	s.hasMoreMessages = false
	s.loadingMessages = false
	s.loadingMoreMessages = false
}

func containsID(msgs []domain.Message, id string) bool {
	return slices.ContainsFunc(msgs, func(m domain.Message) bool { return m.ID == id })
}

func compareTimestamp(a, b domain.Message) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	return 0
}

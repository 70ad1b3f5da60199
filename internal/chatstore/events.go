package chatstore

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/domain"
)

// onNewTicket reloads the first page of the current view unless one is
// already loading.
func (s *Store) onNewTicket(json.RawMessage) {
	s.mu.Lock()
	q := Query{Status: s.tab, Filters: s.filters}
	busy := s.loadingTickets
	s.mu.Unlock()

	if q.Status == "" || busy {
		s.logger.Debug("new ticket refetch skipped", zap.Bool("busy", busy))
		return
	}
	s.goTask(func(ctx context.Context) {
		_ = s.FetchTickets(ctx, q)
	})
}

func (s *Store) onNewMessage(data json.RawMessage) {
	var raw domain.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("undecodable newMessage payload", zap.Error(err))
		return
	}
	s.ApplyMessage(domain.NormalizeMessage(raw))
}

// ApplyMessage folds a confirmed message into the cache. A message matching a
// cached one by id, or a fromMe message matching a local send by content,
// replaces it instead of being added.
func (s *Store) ApplyMessage(m domain.Message) {
	var confirmed []confirmation

	s.mu.Lock()
	selected := s.selected != nil && s.selected.ID == m.TicketID
	unmatched := !selected
	if selected {
		switch idx, kind := s.matchLocked(m); kind {
		case matchNone:
			s.messages = append(s.messages, m)
			unmatched = true
		case matchID, matchPending:
			prev := s.messages[idx]
			if prev.Temporary() && prev.ID != m.ID {
				confirmed = append(confirmed, confirmation{clientID: prev.ID, serverID: m.ID})
			}
			s.messages[idx] = m
		case matchContent:
			s.logger.Debug("duplicate echo absorbed", zap.String("msg_id", m.ID))
		}
	}
	s.setLastMessageLocked(m, selected || m.FromMe)
	s.mu.Unlock()

	s.changed("messages")
	if unmatched && m.FromMe {
		confirmed = s.outboxEcho(m)
	}
	s.confirmSends(confirmed)
	if !selected && !m.FromMe {
		s.triggerCounters()
	}
}

// outboxEcho matches an echo with no local copy in memory against the
// ticket's unconfirmed outbox entries, oldest first, by content.
func (s *Store) outboxEcho(m domain.Message) []confirmation {
	if s.outbox == nil || m.Temporary() {
		return nil
	}
	entries, err := s.outbox.Unconfirmed(m.TicketID)
	if err != nil {
		s.logger.Warn("load unconfirmed sends", zap.Error(err), zap.Int64("ticket_id", m.TicketID))
		return nil
	}
	for _, e := range entries {
		if e.Body == m.Content && m.Timestamp >= e.CreatedAt-echoSkew {
			return []confirmation{{clientID: e.ClientMsgID, serverID: m.ID}}
		}
	}
	return nil
}

type matchKind int

const (
	matchNone matchKind = iota
	matchID
	matchPending
	matchContent
)

// matchLocked applies the dedup rule: same id first, then the oldest
// unconfirmed fromMe message with the same content, then any fromMe message
// with the same content.
func (s *Store) matchLocked(m domain.Message) (int, matchKind) {
	if idx := s.messageIndexLocked(m.ID); idx >= 0 {
		return idx, matchID
	}
	if !m.FromMe {
		return -1, matchNone
	}
	oldest := -1
	for i, c := range s.messages {
		if !c.FromMe || c.Content != m.Content || c.Delivery == domain.DeliveryConfirmed {
			continue
		}
		if oldest < 0 || c.Timestamp < s.messages[oldest].Timestamp {
			oldest = i
		}
	}
	if oldest >= 0 {
		return oldest, matchPending
	}
	for i, c := range s.messages {
		if c.FromMe && c.Content == m.Content {
			return i, matchContent
		}
	}
	return -1, matchNone
}

func (s *Store) onTicketCountsUpdate(data json.RawMessage) {
	var c domain.Counters
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("undecodable ticketCountsUpdate payload", zap.Error(err))
		return
	}
	if s.counters != nil {
		s.counters.Set(c)
	}
	s.changed("counters")
}

func (s *Store) onTicketStatusChanged(data json.RawMessage) {
	var sc domain.StatusChange
	if err := json.Unmarshal(data, &sc); err != nil {
		s.logger.Warn("undecodable ticketStatusChanged payload", zap.Error(err))
		return
	}
	s.ApplyStatusChange(sc)
}

// ApplyStatusChange patches the status of the matching list entry and selection.
func (s *Store) ApplyStatusChange(sc domain.StatusChange) {
	s.mu.Lock()
	if idx := s.ticketIndexLocked(sc.TicketID); idx >= 0 {
		s.tickets[idx].Status = sc.NewStatus
	}
	if s.selected != nil && s.selected.ID == sc.TicketID {
		s.selected.Status = sc.NewStatus
	}
	s.mu.Unlock()
	s.changed("tickets")
}

func (s *Store) onDisconnect(json.RawMessage) {
	s.logger.Warn("live channel lost")
	s.changed("connection")
}

func (s *Store) onResync(json.RawMessage) {
	s.goTask(func(ctx context.Context) {
		if err := s.Resync(ctx); err != nil {
			s.logger.Warn("resync", zap.Error(err))
		}
	})
}

// Resync reloads the first page of the current view, the first page of the
// selected conversation and the counters, to recover events missed while the
// channel was down.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.Lock()
	q := Query{Status: s.tab, Filters: s.filters}
	hasSelection := s.selected != nil
	s.mu.Unlock()

	s.logger.Info("resync", zap.String("tab", string(q.Status)), zap.Bool("selection", hasSelection))

	var errs []error
	if q.Status != "" {
		errs = append(errs, s.FetchTickets(ctx, q))
	}
	if hasSelection {
		if err := s.FetchMessages(ctx, 1); !errors.Is(err, ErrNoSelection) {
			errs = append(errs, err)
		}
	}
	if s.counters != nil {
		errs = append(errs, s.counters.Refresh(ctx))
	}
	return errors.Join(errs...)
}

package chatstore

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/backend"
	"github.com/matheus3301/crmsync/internal/domain"
)

// Query selects a page of tickets. An empty Cursor asks for page one.
type Query struct {
	Status  domain.TicketStatus
	Cursor  string
	Filters Filters
}

// FetchTickets loads a page of tickets. Page one replaces the list and
// refreshes the counters; a cursor page appends. A page-one fetch for the view
// that already has one in flight is dropped, as is a cursor page for a view
// other than the current one. Fetching page one for another status or filter
// set makes it the current view.
func (s *Store) FetchTickets(ctx context.Context, q Query) error {
	s.mu.Lock()
	if q.Cursor == "" {
		if q.Status != s.tab || !q.Filters.Equal(s.filters) {
			s.resetListLocked(q.Status, q.Filters)
		} else if s.loadingTickets {
			s.mu.Unlock()
			s.logger.Debug("ticket fetch dropped: already loading", zap.String("status", string(q.Status)))
			return nil
		}
		s.loadingTickets = true
	} else {
		if q.Status != s.tab || !q.Filters.Equal(s.filters) {
			s.mu.Unlock()
			s.logger.Debug("ticket page dropped: cursor for another view",
				zap.String("status", string(q.Status)), zap.String("tab", string(s.tab)))
			return nil
		}
		s.loadingMoreTickets = true
	}
	gen := s.listGen
	s.mu.Unlock()
	s.changed("tickets")

	page, err := s.remote.FetchTicketsPage(ctx, backend.TicketQuery{
		Status:        q.Status,
		Cursor:        q.Cursor,
		KanbanStepID:  q.Filters.KanbanStepID,
		ResponsibleID: q.Filters.ResponsibleID,
		OnlyActive:    q.Filters.OnlyActive,
		Limit:         s.pageSize,
	})

	s.mu.Lock()
	if gen != s.listGen {
		s.mu.Unlock()
		s.logger.Debug("stale ticket page discarded", zap.String("status", string(q.Status)))
		return nil
	}
	if q.Cursor == "" {
		s.loadingTickets = false
	} else {
		s.loadingMoreTickets = false
	}
	if err != nil {
		s.mu.Unlock()
		s.changed("tickets")
		s.notifyError("Failed to load tickets", err)
		return fmt.Errorf("fetch tickets: %w", err)
	}

	if q.Cursor == "" {
		s.tickets = s.tickets[:0]
	}
	for _, t := range page.Data {
		if t.KanbanStep == nil {
			s.logger.Warn("ticket without kanban step", zap.Int64("ticket_id", t.ID))
		}
		if idx := s.ticketIndexLocked(t.ID); idx >= 0 {
			s.tickets[idx] = t.Clone()
			continue
		}
		s.tickets = append(s.tickets, t.Clone())
	}
	s.nextCursor = page.Meta.NextCursor
	s.hasMoreTickets = page.Meta.HasNextPage && page.Meta.NextCursor != ""
	s.mu.Unlock()

	s.changed("tickets")
	if q.Cursor == "" {
		s.triggerCounters()
	}
	return nil
}

// SetTab switches the active status tab and loads its first page. Selecting
// the tab already shown does nothing.
func (s *Store) SetTab(ctx context.Context, tab domain.TicketStatus) error {
	s.mu.Lock()
	if tab == s.tab {
		s.mu.Unlock()
		return nil
	}
	filters := s.filters
	s.resetListLocked(tab, filters)
	s.mu.Unlock()
	s.changed("tab")

	return s.FetchTickets(ctx, Query{Status: tab, Filters: filters})
}

// SetFilters replaces the list filters and reloads the first page.
func (s *Store) SetFilters(ctx context.Context, f Filters) error {
	s.mu.Lock()
	if f.Equal(s.filters) {
		s.mu.Unlock()
		return nil
	}
	tab := s.tab
	s.resetListLocked(tab, f)
	s.mu.Unlock()
	s.changed("filters")

	if tab == "" {
		return nil
	}
	return s.FetchTickets(ctx, Query{Status: tab, Filters: f})
}

// FetchMoreTickets loads the next cursor page with the current tab and filters.
func (s *Store) FetchMoreTickets(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMoreTickets || s.loadingMoreTickets || s.loadingTickets {
		s.mu.Unlock()
		return nil
	}
	q := Query{Status: s.tab, Cursor: s.nextCursor, Filters: s.filters}
	s.mu.Unlock()
	return s.FetchTickets(ctx, q)
}

// RemoveTicket drops a ticket from the list. Removing the selected ticket
// clears the selection and its message log.
func (s *Store) RemoveTicket(id int64) {
	s.mu.Lock()
	if idx := s.ticketIndexLocked(id); idx >= 0 {
		s.tickets = slices.Delete(s.tickets, idx, idx+1)
	}
	if s.selected != nil && s.selected.ID == id {
		s.clearSelectionLocked()
	}
	s.mu.Unlock()
	s.changed("tickets")
}

// UpdateChat replaces a ticket's cached record and makes it the selection.
// A ticket other than the current selection is selected as by SelectChat.
func (s *Store) UpdateChat(ctx context.Context, t domain.Ticket) error {
	s.mu.Lock()
	if idx := s.ticketIndexLocked(t.ID); idx >= 0 {
		s.tickets[idx] = t.Clone()
	}
	if s.selected != nil && s.selected.ID == t.ID {
		sel := t.Clone()
		s.selected = &sel
		s.mu.Unlock()
		s.changed("selection")
		return nil
	}
	s.mu.Unlock()
	return s.SelectChat(ctx, t)
}

// AcceptTicket moves a ticket to OPEN, switches to the OPEN tab and selects it.
func (s *Store) AcceptTicket(ctx context.Context, id int64) error {
	t, err := s.remote.UpdateTicketStatus(ctx, id, domain.StatusOpen)
	if err != nil {
		s.notifyError("Failed to accept ticket", err)
		return fmt.Errorf("accept ticket %d: %w", id, err)
	}
	s.RemoveTicket(id)

	s.mu.Lock()
	onOpen := s.tab == domain.StatusOpen
	filters := s.filters
	s.mu.Unlock()

	if onOpen {
		err = s.FetchTickets(ctx, Query{Status: domain.StatusOpen, Filters: filters})
	} else {
		err = s.SetTab(ctx, domain.StatusOpen)
	}
	if err != nil {
		s.logger.Warn("reload after accept", zap.Error(err))
	}

	accepted := domain.Ticket{ID: id}
	if t != nil {
		accepted = *t
	}
	if accepted.Status == "" {
		accepted.Status = domain.StatusOpen
	}
	return s.SelectChat(ctx, accepted)
}

// Ticket returns a cached ticket by id.
func (s *Store) Ticket(id int64) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != nil && s.selected.ID == id {
		return s.selected.Clone(), nil
	}
	if idx := s.ticketIndexLocked(id); idx >= 0 {
		return s.tickets[idx].Clone(), nil
	}
	return domain.Ticket{}, ErrTicketNotFound
}

// resetListLocked starts a new list generation for the given view. Results
// of fetches launched for the previous view are discarded when they land.
func (s *Store) resetListLocked(tab domain.TicketStatus, f Filters) {
	s.tab = tab
	s.filters = f
	s.listGen++
	s.tickets = nil
	s.nextCursor = ""
	s.hasMoreTickets = false
	s.loadingTickets = false
	s.loadingMoreTickets = false
}

func (s *Store) ticketIndexLocked(id int64) int {
	return slices.IndexFunc(s.tickets, func(t domain.Ticket) bool { return t.ID == id })
}

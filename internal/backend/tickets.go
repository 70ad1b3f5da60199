package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/crmsync/internal/domain"
)

// TicketQuery selects one cursor page of a status tab.
type TicketQuery struct {
	Status        domain.TicketStatus
	Cursor        string
	KanbanStepID  *int64
	ResponsibleID *int64
	OnlyActive    bool
	Limit         int
}

// CursorMeta carries the continuation token of a ticket page.
type CursorMeta struct {
	NextCursor  string `json:"nextCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// TicketsPage is one page of tickets.
type TicketsPage struct {
	Data []domain.Ticket `json:"data"`
	Meta CursorMeta      `json:"meta"`
}

// FetchTicketsPage returns one page of tickets for a status tab.
func (c *Client) FetchTicketsPage(ctx context.Context, q TicketQuery) (*TicketsPage, error) {
	v := url.Values{}
	v.Set("status", string(q.Status))
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if q.KanbanStepID != nil {
		v.Set("kanbanStepId", strconv.FormatInt(*q.KanbanStepID, 10))
	}
	if q.ResponsibleID != nil {
		v.Set("responsibleId", strconv.FormatInt(*q.ResponsibleID, 10))
	}
	if q.OnlyActive {
		v.Set("onlyActive", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	var page TicketsPage
	if err := c.do(ctx, http.MethodGet, "/tickets", v, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchTicketCounts returns the pending-ticket and unread-message badges.
func (c *Client) FetchTicketCounts(ctx context.Context) (domain.Counters, error) {
	var counts domain.Counters
	if err := c.do(ctx, http.MethodGet, "/tickets/counts", nil, nil, &counts); err != nil {
		return domain.Counters{}, err
	}
	return counts, nil
}

type statusUpdate struct {
	Status domain.TicketStatus `json:"status"`
}

// UpdateTicketStatus moves a ticket to a new status and returns the stored record.
func (c *Client) UpdateTicketStatus(ctx context.Context, ticketID int64, st domain.TicketStatus) (*domain.Ticket, error) {
	var t domain.Ticket
	path := fmt.Sprintf("/tickets/%d/status", ticketID)
	if err := c.do(ctx, http.MethodPatch, path, nil, statusUpdate{Status: st}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

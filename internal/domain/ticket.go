// Package domain holds the CRM records the sync daemon caches: tickets, their
// messages, and the aggregate counters shown as badges.
package domain

import (
	"fmt"
	"strings"
)

// TicketStatus is the pipeline status of a ticket. Tabs are keyed by status.
type TicketStatus string

const (
	StatusOpen    TicketStatus = "OPEN"
	StatusPending TicketStatus = "PENDING"
	StatusSold    TicketStatus = "SOLD"
	StatusLoss    TicketStatus = "LOSS"
)

// ParseTicketStatus accepts a status in any letter case.
func ParseTicketStatus(s string) (TicketStatus, error) {
	st := TicketStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusOpen, StatusPending, StatusSold, StatusLoss:
		return st, nil
	}
	return "", fmt.Errorf("invalid ticket status %q", s)
}

// KanbanStep is the pipeline stage a ticket currently occupies.
type KanbanStep struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Contact is the person on the other side of a ticket.
type Contact struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

// LastMessage summarizes the most recently observed message of a ticket.
type LastMessage struct {
	Content   string    `json:"content"`
	FromMe    bool      `json:"fromMe"`
	Timestamp int64     `json:"timestamp"`
	Kind      MediaKind `json:"mediaType"`
	Read      bool      `json:"read"`
}

// Ticket is a conversation thread between the company and a contact.
type Ticket struct {
	ID               int64        `json:"id"`
	Status           TicketStatus `json:"status"`
	ResponsibleID    *int64       `json:"responsibleId,omitempty"`
	KanbanStep       *KanbanStep  `json:"kanbanStep,omitempty"`
	ContactChannelID int64        `json:"contactChannelId"`
	Contact          Contact      `json:"contact"`
	LastMessage      *LastMessage `json:"lastMessage,omitempty"`
}

// Clone returns a deep copy so snapshots never alias cache records.
func (t Ticket) Clone() Ticket {
	c := t
	if t.ResponsibleID != nil {
		id := *t.ResponsibleID
		c.ResponsibleID = &id
	}
	if t.KanbanStep != nil {
		step := *t.KanbanStep
		c.KanbanStep = &step
	}
	if t.LastMessage != nil {
		lm := *t.LastMessage
		c.LastMessage = &lm
	}
	return c
}

// StatusChange is the payload of a ticketStatusChanged event.
type StatusChange struct {
	TicketID  int64        `json:"ticketId"`
	OldStatus TicketStatus `json:"oldStatus"`
	NewStatus TicketStatus `json:"newStatus"`
}

// Counters are the process-wide badges. They are advisory, never authoritative.
type Counters struct {
	Pending int `json:"pending"`
	Unread  int `json:"unread"`
}

package store

// Outbox statuses. An entry is "sent" once the backend accepted it and
// "confirmed" once its echo arrived on the live channel.
const (
	OutboxPending   = "pending"
	OutboxSent      = "sent"
	OutboxFailed    = "failed"
	OutboxConfirmed = "confirmed"
)

// OutboxEntry is one optimistic send.
type OutboxEntry struct {
	ID               int64
	ClientMsgID      string
	TicketID         int64
	ContactChannelID int64
	Body             string
	Status           string
	ErrorMessage     string
	ServerMsgID      string
	Attempts         int
	CreatedAt        int64
}

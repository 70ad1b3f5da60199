package realtime

import "encoding/json"

// Event names carried in the "event" field of a frame.
const (
	EventJoin                = "join"
	EventNewTicket           = "newTicket"
	EventNewMessage          = "newMessage"
	EventTicketCountsUpdate  = "ticketCountsUpdate"
	EventTicketStatusChanged = "ticketStatusChanged"
	// EventDisconnect is raised locally when the channel is lost.
	EventDisconnect = "disconnect"
	// EventResync is raised locally after a re-join or a sequence gap.
	EventResync = "resync"
)

// Frame is one JSON text message on the channel. Seq is the tenant-wide
// sequence number stamped by the server; zero means unsequenced.
type Frame struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload scopes the channel to a tenant room.
type JoinPayload struct {
	CompanyID int64  `json:"companyId"`
	LastSeq   uint64 `json:"lastSeq,omitempty"`
}

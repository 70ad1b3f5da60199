package bus

import "time"

// Event kinds published inside the daemon. Subscribers filter by prefix, so
// "store." receives every store notification.
const (
	KindStoreChanged     = "store.changed"
	KindConnectionStatus = "connection.status_changed"
	KindConnectionResync = "connection.resync"
	KindNoticeError      = "notice.error"
	KindOutboxSendFailed = "outbox.send_failed"
	KindOutboxSendAck    = "outbox.send_ack"
	KindOutboxConfirmed  = "outbox.confirmed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

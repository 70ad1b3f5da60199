package domain

import "strings"

// MediaKind is the kind of payload a message carries.
type MediaKind string

const (
	MediaText     MediaKind = "text"
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaContact  MediaKind = "contact"
	MediaReaction MediaKind = "reaction"
)

// CarriesURL reports whether the payload of this kind is a URL instead of text.
func (k MediaKind) CarriesURL() bool {
	switch k {
	case MediaImage, MediaAudio, MediaVideo, MediaDocument:
		return true
	}
	return false
}

// ParseMediaKind maps transport type names ("imageMessage", "ptt", "conversation", ...)
// onto a MediaKind. ok is false for names it does not recognize.
func ParseMediaKind(s string) (kind MediaKind, ok bool) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "message")
	switch name {
	case "", "text", "chat", "conversation", "extendedtext":
		return MediaText, true
	case "image", "sticker":
		return MediaImage, true
	case "audio", "ptt", "voice":
		return MediaAudio, true
	case "video":
		return MediaVideo, true
	case "document", "file":
		return MediaDocument, true
	case "contact", "vcard", "contactsarray":
		return MediaContact, true
	case "reaction":
		return MediaReaction, true
	}
	return MediaText, false
}

// DeliveryState tracks a message from optimistic insert to server confirmation.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// TempIDPrefix marks client-generated message ids that have not been confirmed.
const TempIDPrefix = "tmp-"

// Message is one chat event in a ticket's conversation, in the uniform envelope
// produced by NormalizeMessage.
type Message struct {
	ID            string        `json:"id"`
	TicketID      int64         `json:"ticketId"`
	FromMe        bool          `json:"fromMe"`
	Kind          MediaKind     `json:"mediaType"`
	Content       string        `json:"content"`
	ContentURL    string        `json:"contentUrl,omitempty"`
	Caption       string        `json:"caption,omitempty"`
	QuotedID      string        `json:"quotedMessageId,omitempty"`
	AudioDuration int           `json:"audioDuration,omitempty"`
	Timestamp     int64         `json:"timestamp"`
	Status        string        `json:"status,omitempty"`
	Delivery      DeliveryState `json:"delivery"`
}

// Temporary reports whether the id was generated locally before confirmation.
func (m Message) Temporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Summary builds the ticket-level last-message summary for m.
func (m Message) Summary(read bool) LastMessage {
	content := m.Content
	if m.Kind.CarriesURL() {
		content = m.Caption
	}
	return LastMessage{
		Content:   content,
		FromMe:    m.FromMe,
		Timestamp: m.Timestamp,
		Kind:      m.Kind,
		Read:      read,
	}
}

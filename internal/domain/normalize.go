package domain

// secondsCutoff separates second-based from millisecond-based epoch values.
const secondsCutoff = 1_000_000_000_000

// NormalizeTimestamp rescales epoch seconds to milliseconds. Values already in
// milliseconds are returned unchanged.
func NormalizeTimestamp(ts int64) int64 {
	if ts > 0 && ts < secondsCutoff {
		return ts * 1000
	}
	return ts
}

// RawKey identifies a message on the transport.
type RawKey struct {
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
	RemoteJID string `json:"remoteJid,omitempty"`
}

// RawMessage is a message as delivered by the REST API or the live channel.
type RawMessage struct {
	Key             RawKey `json:"key"`
	TicketID        int64  `json:"ticketId"`
	InstanceID      string `json:"instanceId,omitempty"`
	MessageType     string `json:"messageType,omitempty"`
	MediaType       string `json:"mediaType,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	Content         string `json:"content,omitempty"`
	Caption         string `json:"caption,omitempty"`
	MediaURL        string `json:"mediaUrl,omitempty"`
	ImageURL        string `json:"imageUrl,omitempty"`
	VideoURL        string `json:"videoUrl,omitempty"`
	AudioURL        string `json:"audioUrl,omitempty"`
	DocumentURL     string `json:"documentUrl,omitempty"`
	AudioDuration   int    `json:"audioDuration,omitempty"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
	Status          string `json:"status,omitempty"`
}

// TypeName returns whichever type field the sender filled in.
func (r RawMessage) TypeName() string {
	if r.MediaType != "" {
		return r.MediaType
	}
	return r.MessageType
}

// NormalizeMessage converts a transport message into the uniform envelope. URL
// kinds carry their payload in ContentURL and leave Content blank. A message
// without a key id falls back to the instance id.
func NormalizeMessage(raw RawMessage) Message {
	kind, _ := ParseMediaKind(raw.TypeName())
	m := Message{
		ID:        raw.Key.ID,
		TicketID:  raw.TicketID,
		FromMe:    raw.Key.FromMe,
		Kind:      kind,
		Content:   raw.Content,
		Caption:   raw.Caption,
		QuotedID:  raw.QuotedMessageID,
		Timestamp: NormalizeTimestamp(raw.Timestamp),
		Status:    raw.Status,
		Delivery:  DeliveryConfirmed,
	}
	if m.ID == "" {
		m.ID = raw.InstanceID
	}

	switch kind {
	case MediaImage:
		m.ContentURL = firstNonEmpty(raw.ImageURL, raw.MediaURL)
	case MediaVideo:
		m.ContentURL = firstNonEmpty(raw.VideoURL, raw.MediaURL)
	case MediaAudio:
		m.ContentURL = firstNonEmpty(raw.AudioURL, raw.MediaURL)
		m.AudioDuration = raw.AudioDuration
	case MediaDocument:
		m.ContentURL = firstNonEmpty(raw.DocumentURL, raw.MediaURL)
	}
	if kind.CarriesURL() {
		if m.ContentURL == "" {
			// Some senders put the URL in content.
			m.ContentURL = raw.Content
		}
		m.Content = ""
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

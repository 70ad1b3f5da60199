package domain

import "testing"

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"seconds", 1_700_000_000, 1_700_000_000_000},
		{"milliseconds", 1_700_000_000_123, 1_700_000_000_123},
		{"cutoff is milliseconds", 1_000_000_000_000, 1_000_000_000_000},
		{"just below cutoff", 999_999_999_999, 999_999_999_999_000},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTimestamp(tt.in); got != tt.want {
				t.Errorf("NormalizeTimestamp(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseMediaKind(t *testing.T) {
	tests := []struct {
		in     string
		want   MediaKind
		wantOK bool
	}{
		{"conversation", MediaText, true},
		{"extendedTextMessage", MediaText, true},
		{"imageMessage", MediaImage, true},
		{"ptt", MediaAudio, true},
		{"audio", MediaAudio, true},
		{"videoMessage", MediaVideo, true},
		{"documentMessage", MediaDocument, true},
		{"contactMessage", MediaContact, true},
		{"reactionMessage", MediaReaction, true},
		{"pollCreationMessage", MediaText, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMediaKind(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseMediaKind(%q) = %s, %v; want %s, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalizeMessageText(t *testing.T) {
	m := NormalizeMessage(RawMessage{
		Key:       RawKey{ID: "m1", FromMe: true},
		TicketID:  7,
		Timestamp: 1_700_000_000,
		Content:   "hello",
	})
	if m.ID != "m1" || !m.FromMe || m.TicketID != 7 {
		t.Errorf("identity = %+v", m)
	}
	if m.Kind != MediaText {
		t.Errorf("kind = %s, want text", m.Kind)
	}
	if m.Content != "hello" {
		t.Errorf("content = %q, want hello", m.Content)
	}
	if m.Timestamp != 1_700_000_000_000 {
		t.Errorf("timestamp = %d, want ms", m.Timestamp)
	}
	if m.Delivery != DeliveryConfirmed {
		t.Errorf("delivery = %s, want confirmed", m.Delivery)
	}
}

func TestNormalizeMessageMediaKinds(t *testing.T) {
	tests := []struct {
		name        string
		raw         RawMessage
		wantKind    MediaKind
		wantURL     string
		wantCaption string
		wantDur     int
	}{
		{
			name:        "image uses imageUrl",
			raw:         RawMessage{MessageType: "imageMessage", ImageURL: "https://x/i.jpg", Content: "ignored", Caption: "look"},
			wantKind:    MediaImage,
			wantURL:     "https://x/i.jpg",
			wantCaption: "look",
		},
		{
			name:     "video uses videoUrl",
			raw:      RawMessage{MediaType: "video", VideoURL: "https://x/v.mp4"},
			wantKind: MediaVideo,
			wantURL:  "https://x/v.mp4",
		},
		{
			name:     "audio carries duration",
			raw:      RawMessage{MediaType: "audio", AudioURL: "https://x/a.ogg", AudioDuration: 12},
			wantKind: MediaAudio,
			wantURL:  "https://x/a.ogg",
			wantDur:  12,
		},
		{
			name:     "document falls back to content",
			raw:      RawMessage{MediaType: "document", Content: "https://x/d.pdf"},
			wantKind: MediaDocument,
			wantURL:  "https://x/d.pdf",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NormalizeMessage(tt.raw)
			if m.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", m.Kind, tt.wantKind)
			}
			if m.ContentURL != tt.wantURL {
				t.Errorf("contentUrl = %q, want %q", m.ContentURL, tt.wantURL)
			}
			if m.Content != "" {
				t.Errorf("content = %q, want blank for URL kinds", m.Content)
			}
			if m.Caption != tt.wantCaption {
				t.Errorf("caption = %q, want %q", m.Caption, tt.wantCaption)
			}
			if m.AudioDuration != tt.wantDur {
				t.Errorf("audioDuration = %d, want %d", m.AudioDuration, tt.wantDur)
			}
		})
	}
}

func TestNormalizeMessageFallsBackToInstanceID(t *testing.T) {
	m := NormalizeMessage(RawMessage{InstanceID: "inst-1", Content: "x"})
	if m.ID != "inst-1" {
		t.Errorf("id = %q, want inst-1", m.ID)
	}
}

func TestMessageSummaryUsesCaptionForMedia(t *testing.T) {
	m := Message{Kind: MediaImage, ContentURL: "https://x", Caption: "pic", Timestamp: 5}
	got := m.Summary(false)
	if got.Content != "pic" || got.Kind != MediaImage || got.Timestamp != 5 || got.Read {
		t.Errorf("summary = %+v", got)
	}
}

func TestParseTicketStatus(t *testing.T) {
	if st, err := ParseTicketStatus("pending"); err != nil || st != StatusPending {
		t.Errorf("ParseTicketStatus(pending) = %s, %v", st, err)
	}
	if _, err := ParseTicketStatus("closed"); err == nil {
		t.Error("ParseTicketStatus(closed) expected error")
	}
}

func TestTicketCloneIsDeep(t *testing.T) {
	rid := int64(3)
	orig := Ticket{ID: 1, ResponsibleID: &rid, KanbanStep: &KanbanStep{ID: 2}, LastMessage: &LastMessage{Content: "a"}}
	c := orig.Clone()
	*c.ResponsibleID = 9
	c.KanbanStep.ID = 9
	c.LastMessage.Content = "b"
	if *orig.ResponsibleID != 3 || orig.KanbanStep.ID != 2 || orig.LastMessage.Content != "a" {
		t.Errorf("clone aliases original: %+v", orig)
	}
}

package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/crmsync/internal/domain"
)

// PageMeta tells whether an older page exists.
type PageMeta struct {
	HasNext bool `json:"hasNext"`
}

// MessagesPage is one page of a conversation, newest page first.
type MessagesPage struct {
	Data []domain.RawMessage `json:"data"`
	Meta PageMeta            `json:"meta"`
}

// FetchMessagesPage returns page (1-based) of a contact channel's messages.
func (c *Client) FetchMessagesPage(ctx context.Context, contactChannelID int64, page int) (*MessagesPage, error) {
	if page < 1 {
		page = 1
	}
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))

	var out MessagesPage
	path := fmt.Sprintf("/contact-channels/%d/messages", contactChannelID)
	if err := c.do(ctx, http.MethodGet, path, v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type textBody struct {
	Text string `json:"text"`
}

// SendText sends a text message on a contact channel. The confirmed message
// arrives later as a newMessage event.
func (c *Client) SendText(ctx context.Context, contactChannelID int64, text string) error {
	path := fmt.Sprintf("/contact-channels/%d/messages/text", contactChannelID)
	return c.do(ctx, http.MethodPost, path, nil, textBody{Text: text}, nil)
}

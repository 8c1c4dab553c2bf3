package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

// ListMessages returns the messages of a conversation in server order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	path := "/message/" + url.PathEscape(conversationID)
	data, err := c.do(ctx, http.MethodGet, "/message/{conversationId}", path, nil, c.bearer())
	if err != nil {
		return nil, err
	}
	return DecodeMessageList(data)
}

// SendMessage creates a message. The response body is not used beyond its
// status.
func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/message/", "/message/", req, c.bearer())
	return err
}

// EditMessage replaces the text of a message on behalf of userID.
func (c *Client) EditMessage(ctx context.Context, messageID string, req chat.EditRequest) error {
	path := "/message/edit/" + url.PathEscape(messageID)
	_, err := c.do(ctx, http.MethodPut, "/message/edit/{messageId}", path, req, c.bearer())
	return err
}

// DeleteMessage removes a message on behalf of userID.
func (c *Client) DeleteMessage(ctx context.Context, messageID string, req chat.DeleteRequest) error {
	path := "/message/" + url.PathEscape(messageID)
	_, err := c.do(ctx, http.MethodDelete, "/message/{messageId}", path, req, c.bearer())
	return err
}

// DecodeMessageList accepts exactly two envelopes: a bare JSON array of
// messages or an object whose "messages" field is that array. Any other
// shape, and any message without an identifier, is ErrMalformedResponse.
func DecodeMessageList(data []byte) ([]chat.Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedResponse)
	}

	root := gjson.ParseBytes(data)
	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.IsObject():
		list = root.Get("messages")
		if !list.IsArray() {
			return nil, fmt.Errorf("%w: object without messages array", ErrMalformedResponse)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected %s payload", ErrMalformedResponse, root.Type)
	}

	messages := make([]chat.Message, 0, len(list.Array()))
	if err := json.Unmarshal([]byte(list.Raw), &messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for i, msg := range messages {
		if msg.ID == "" {
			return nil, fmt.Errorf("%w: message %d has no _id", ErrMalformedResponse, i)
		}
		messages[i].IsOwn = false
	}
	return messages, nil
}

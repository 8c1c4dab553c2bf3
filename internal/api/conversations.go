package api

import (
	"context"
	"net/http"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

// ListChatUsers returns the conversations of the signed-in user together with
// their counterparts.
func (c *Client) ListChatUsers(ctx context.Context) (chat.ChatUsers, error) {
	data, err := c.do(ctx, http.MethodGet, "/conversation/chatusers", "/conversation/chatusers", nil, c.bearer())
	if err != nil {
		return chat.ChatUsers{}, err
	}

	var out chat.ChatUsers
	if err := decodeJSON(data, &out); err != nil {
		return chat.ChatUsers{}, err
	}
	return out, nil
}

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dovechat/dovechat/models"
)

// ChatHistory fetches all messages between userID and peerID. Order is not
// guaranteed by the backend; callers sort before display.
func (g *Gateway) ChatHistory(ctx context.Context, userID, peerID int64) ([]models.Message, error) {
	var msgs []models.Message
	path := fmt.Sprintf("/chat/history/%d?userId=%d", peerID, userID)
	err := g.doJSON(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

// SendChatMessage posts one message. The sent message is not returned; it
// comes back as an echo over the realtime channel.
func (g *Gateway) SendChatMessage(ctx context.Context, userID, peerID int64, body string) error {
	req := map[string]any{"userId": userID, "friendId": peerID, "message": body}
	return g.doJSON(ctx, http.MethodPost, "/chat/send", req, nil)
}

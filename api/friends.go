package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dovechat/dovechat/models"
)

// ListFriends fetches every edge for userID, any status.
func (g *Gateway) ListFriends(ctx context.Context, userID int64) ([]models.FriendEdge, error) {
	var edges []models.FriendEdge
	err := g.doJSON(ctx, http.MethodGet, fmt.Sprintf("/friends/%d", userID), nil, &edges)
	return edges, err
}

// SendFriendRequest asks receiverID for friendship.
func (g *Gateway) SendFriendRequest(ctx context.Context, receiverID int64) error {
	return g.doJSON(ctx, http.MethodPost, fmt.Sprintf("/friends/request/%d", receiverID), nil, nil)
}

// AcceptFriendRequest resolves a pending request to accepted.
func (g *Gateway) AcceptFriendRequest(ctx context.Context, requestID int64) error {
	return g.doJSON(ctx, http.MethodPost, fmt.Sprintf("/friends/accept/%d", requestID), nil, nil)
}

// RejectFriendRequest resolves a pending request to rejected.
func (g *Gateway) RejectFriendRequest(ctx context.Context, requestID int64) error {
	return g.doJSON(ctx, http.MethodPost, fmt.Sprintf("/friends/reject/%d", requestID), nil, nil)
}

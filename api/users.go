package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dovechat/dovechat/models"
)

// SearchUsers looks up users by keyword for sending friend requests.
func (g *Gateway) SearchUsers(ctx context.Context, keyword string) ([]models.User, error) {
	var users []models.User
	path := "/user/search?keyword=" + url.QueryEscape(keyword)
	err := g.doJSON(ctx, http.MethodGet, path, nil, &users)
	return users, err
}

// FetchNotifications returns the user's pending notification lines.
func (g *Gateway) FetchNotifications(ctx context.Context) ([]string, error) {
	var notes []string
	err := g.doJSON(ctx, http.MethodGet, "/notifications", nil, &notes)
	return notes, err
}

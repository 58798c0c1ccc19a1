package api

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// Login exchanges credentials for a bearer token. The caller establishes
// the session with the returned token; Login itself mutates nothing.
func (g *Gateway) Login(ctx context.Context, email, password string) (string, error) {
	var reply struct {
		Token string `json:"token"`
	}
	req := map[string]string{"email": email, "password": password}
	if err := g.doPublicJSON(ctx, http.MethodPost, "/auth/login", req, &reply); err != nil {
		return "", err
	}
	if reply.Token == "" {
		return "", errors.New("api: login reply carried no token")
	}
	return reply.Token, nil
}

// Register creates an account. Registration does not authenticate; the user
// logs in afterwards.
func (g *Gateway) Register(ctx context.Context, name, email, password, confirmPassword string) error {
	req := map[string]string{
		"name":            name,
		"email":           email,
		"password":        password,
		"confirmPassword": confirmPassword,
	}
	return g.doPublicJSON(ctx, http.MethodPost, "/user/register", req, nil)
}

// Logout tells the backend to invalidate the token. The caller clears the
// session afterwards regardless of the outcome here.
func (g *Gateway) Logout(ctx context.Context) error {
	return g.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

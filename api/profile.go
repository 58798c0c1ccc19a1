package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/dovechat/dovechat/models"
)

// FetchProfile returns the current user's own record.
func (g *Gateway) FetchProfile(ctx context.Context) (models.Profile, error) {
	var p models.Profile
	err := g.doJSON(ctx, http.MethodGet, "/profile", nil, &p)
	return p, err
}

// UpdateProfileInfo saves name, lastname and bio.
func (g *Gateway) UpdateProfileInfo(ctx context.Context, upd models.ProfileUpdate) error {
	return g.doJSON(ctx, http.MethodPut, "/profile/update-info", upd, nil)
}

// UpdateProfilePicture uploads a new picture as multipart form data and
// returns the stored picture reference. The multipart content type replaces
// the default JSON one.
func (g *Gateway) UpdateProfilePicture(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("profilePicture", filename)
	if err != nil {
		return "", errors.Wrap(err, "build multipart body")
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", errors.Wrap(err, "read picture")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "finish multipart body")
	}

	resp, err := g.Do(ctx, http.MethodPut, "/profile/update-picture", &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var reply struct {
		ProfilePicture string `json:"profilePicture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	return reply.ProfilePicture, nil
}

// UpdatePassword changes the password given the old one.
func (g *Gateway) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	req := map[string]string{"oldPassword": oldPassword, "newPassword": newPassword}
	return g.doJSON(ctx, http.MethodPut, "/profile/update-password", req, nil)
}

// UpdateEmail starts an email change; the backend mails a verification code.
func (g *Gateway) UpdateEmail(ctx context.Context, newEmail string) error {
	req := map[string]string{"newEmail": newEmail}
	return g.doJSON(ctx, http.MethodPut, "/profile/update-email", req, nil)
}

// ConfirmEmail completes an email change with the mailed code.
func (g *Gateway) ConfirmEmail(ctx context.Context, code string) error {
	req := map[string]string{"code": code}
	return g.doJSON(ctx, http.MethodPut, "/profile/confirm-email", req, nil)
}

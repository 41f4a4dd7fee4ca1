// Package webhook receives signed user lifecycle events from the auth provider.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/domain"
	"github.com/park285/cards-of-power/internal/obslog"
)

const (
	maxBody  = 1 << 20
	headerID = "svix-id"
)

// UserStore is the part of the user repository the webhook writes to.
type UserStore interface {
	Upsert(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id string) error
}

// Event is the provider envelope; Data is decoded per type.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userData struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	Username              string         `json:"username"`
	ImageURL              string         `json:"image_url"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	UpdatedAt             int64          `json:"updated_at"`
}

func (d userData) toUser() *domain.User {
	name := strings.TrimSpace(strings.TrimSpace(d.FirstName) + " " + strings.TrimSpace(d.LastName))
	if name == "" {
		name = d.Username
	}
	email := ""
	for _, e := range d.EmailAddresses {
		if email == "" || e.ID == d.PrimaryEmailAddressID {
			email = e.EmailAddress
		}
	}
	u := &domain.User{ID: d.ID, Name: name, Email: email, Image: d.ImageURL}
	if d.UpdatedAt > 0 {
		u.UpdatedAt = time.UnixMilli(d.UpdatedAt).UTC()
	}
	return u
}

type Handler struct {
	wh    *svix.Webhook
	users UserStore
}

// NewHandler accepts the provider secret with or without its whsec_ prefix.
func NewHandler(secret string, users UserStore) (*Handler, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret is empty")
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook secret: %w", err)
	}
	return &Handler{wh: wh, users: users}, nil
}

// ServeHTTP answers 400 for anything that fails verification. Once the
// payload is verified the provider gets 200 even if applying it fails; the
// failure is logged and not retried.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := h.wh.Verify(body, r.Header); err != nil {
		obslog.L().Warn("webhook_verify_failed", zap.String("svix_id", r.Header.Get(headerID)), zap.Error(err))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.Apply(r.Context(), ev); err != nil {
		obslog.L().Error("webhook_apply_failed", zap.String("type", ev.Type), zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

var errNoUserID = errors.New("event has no user id")

// Apply maps an event to a user upsert or delete. Unknown types are ignored.
func (h *Handler) Apply(ctx context.Context, ev Event) error {
	var d userData
	switch ev.Type {
	case "user.created", "user.updated", "user.deleted":
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		if strings.TrimSpace(d.ID) == "" {
			return errNoUserID
		}
	default:
		obslog.L().Debug("webhook_ignored", zap.String("type", ev.Type))
		return nil
	}

	if ev.Type == "user.deleted" {
		if err := h.users.Delete(ctx, d.ID); err != nil {
			return err
		}
		obslog.L().Info("webhook_user_delete", zap.String("user_id", d.ID))
		return nil
	}
	u := d.toUser()
	if err := h.users.Upsert(ctx, u); err != nil {
		return err
	}
	obslog.L().Info("webhook_user_upsert", zap.String("user_id", u.ID), zap.String("type", ev.Type))
	return nil
}

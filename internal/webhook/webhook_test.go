package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/park285/cards-of-power/internal/users"
)

var testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-signing-key"))

// signed builds a delivery the way the provider does, with a stale entry
// ahead of the valid signature.
func signed(t *testing.T, id string, ts time.Time, body []byte) *http.Request {
	t.Helper()
	wh, err := svix.NewWebhook(testSecret)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	sig, err := wh.Sign(id, ts, body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/webhooks/auth", bytes.NewReader(body))
	r.Header.Set("svix-id", id)
	r.Header.Set("svix-timestamp", strconv.FormatInt(ts.Unix(), 10))
	r.Header.Set("svix-signature", "v1,c3RhbGU= "+sig)
	return r
}

func newHandler(t *testing.T) (*Handler, users.Repository) {
	t.Helper()
	repo := users.NewMemoryRepository()
	h, err := NewHandler(testSecret, repo)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, repo
}

func TestNewHandlerSecret(t *testing.T) {
	if _, err := NewHandler("  ", users.NewMemoryRepository()); err == nil {
		t.Fatalf("expected empty secret error")
	}
	if _, err := NewHandler("whsec_%%%", users.NewMemoryRepository()); err == nil {
		t.Fatalf("expected bad secret error")
	}
}

func TestHandlerVerifiesSignature(t *testing.T) {
	h, _ := newHandler(t)
	body := []byte(`{"type":"session.created","data":{}}`)
	now := time.Now()

	cases := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"valid", signed(t, "msg_1", now, body), http.StatusOK},
		{"tampered body", func() *http.Request {
			r := signed(t, "msg_1", now, body)
			r.Body = http.NoBody
			return r
		}(), http.StatusBadRequest},
		{"old timestamp", signed(t, "msg_1", now.Add(-10*time.Minute), body), http.StatusBadRequest},
		{"future timestamp", signed(t, "msg_1", now.Add(10*time.Minute), body), http.StatusBadRequest},
		{"other id", func() *http.Request {
			r := signed(t, "msg_1", now, body)
			r.Header.Set("svix-id", "msg_2")
			return r
		}(), http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, tc.req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestHandlerUpsertAndDelete(t *testing.T) {
	h, repo := newHandler(t)
	ctx := context.Background()

	created := []byte(`{"type":"user.created","data":{"id":"user_1","first_name":"Seto","last_name":"Kaiba",
		"image_url":"https://img.example/k.png","primary_email_address_id":"e2",
		"email_addresses":[{"id":"e1","email_address":"old@example.com"},{"id":"e2","email_address":"seto@example.com"}]}}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signed(t, "msg_1", time.Now(), created))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	u, err := repo.Get(ctx, "user_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.Name != "Seto Kaiba" || u.Email != "seto@example.com" || u.Image == "" {
		t.Fatalf("user = %+v", u)
	}

	updated := []byte(`{"type":"user.updated","data":{"id":"user_1","username":"kaiba"}}`)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(t, "msg_2", time.Now(), updated))
	if u, _ := repo.Get(ctx, "user_1"); rec.Code != http.StatusOK || u.Name != "kaiba" {
		t.Fatalf("update: status=%d name=%q", rec.Code, u.Name)
	}

	deleted := []byte(`{"type":"user.deleted","data":{"id":"user_1"}}`)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(t, "msg_3", time.Now(), deleted))
	if _, err := repo.Get(ctx, "user_1"); rec.Code != http.StatusOK || !errors.Is(err, users.ErrUserNotFound) {
		t.Fatalf("delete: status=%d err=%v", rec.Code, err)
	}
}

func TestHandlerRejectsUnsigned(t *testing.T) {
	h, _ := newHandler(t)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/auth", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestApplyIgnoresUnknownTypes(t *testing.T) {
	h, _ := newHandler(t)
	if err := h.Apply(context.Background(), Event{Type: "session.created"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := h.Apply(context.Background(), Event{Type: "user.created", Data: []byte(`{}`)}); !errors.Is(err, errNoUserID) {
		t.Fatalf("expected errNoUserID, got %v", err)
	}
}

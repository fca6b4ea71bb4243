package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"

	"github.com/stegline/core/internal/changefeed"
	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/handler"
	"github.com/stegline/core/internal/middleware"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/service"
	"github.com/stegline/core/internal/store"
	"github.com/stegline/core/internal/wizard"
	"github.com/stegline/core/pkg/logger"
)

const secret = "test-secret"

type fakeCodec struct{}

func (fakeCodec) Encode(ctx context.Context, cover []byte, secretText, secretKey string, alg model.Algorithm) (string, error) {
	return "encoded:" + secretKey + ":" + secretText, nil
}

func (fakeCodec) Decode(ctx context.Context, stegoText, secretKey string) (string, error) {
	want := "encoded:" + secretKey + ":"
	if len(stegoText) <= len(want) || stegoText[:len(want)] != want {
		return "", apperrors.Reason(apperrors.ErrDecodeFailed, "Invalid key")
	}
	return stegoText[len(want):], nil
}

type fixture struct {
	store     *store.MemoryStore
	broker    *changefeed.Broker
	directory *service.DirectoryService
	delivery  *service.DeliveryService
	sessions  *handler.Sessions
	router    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.FromZap(zaptest.NewLogger(t))

	st := store.NewMemoryStore()
	st.UpsertProfile(ctx, model.Profile{ID: "alice", FullName: "Alice"})
	st.UpsertProfile(ctx, model.Profile{ID: "bob", FullName: "Bob"})
	st.UpsertProfile(ctx, model.Profile{ID: "carol", FullName: "Carol"})

	attachments := store.NewMemoryAttachments()
	broker := changefeed.NewBroker()
	directory := service.NewDirectoryService(st, st, log)
	delivery := service.NewDeliveryService(directory, st, attachments, broker, log)

	sessions := handler.NewSessions(func(userID string) *wizard.Wizard {
		return wizard.New(userID, log,
			wizard.WithEncoder(model.MethodText, fakeCodec{}),
			wizard.WithDispatcher(delivery),
		)
	})

	conversations := handler.NewConversationHandler(directory, log)
	messages := handler.NewMessageHandler(directory, st, delivery, log)
	stream := handler.NewStreamHandler(directory, st, broker, log)
	wizards := handler.NewWizardHandler(sessions, log)
	decodes := handler.NewDecodeHandler(sessions, directory, st, fakeCodec{}, attachments, log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(secret))
		r.Put("/profile", conversations.UpdateProfile)
		r.Get("/profiles", conversations.SearchProfiles)
		r.Get("/recipients", conversations.Recipients)
		r.Post("/conversations", conversations.Start)
		r.Get("/conversations", conversations.List)
		r.Get("/conversations/{id}", conversations.Get)
		r.Get("/conversations/{id}/messages", messages.List)
		r.Post("/conversations/{id}/messages", messages.Send)
		r.Post("/conversations/{id}/attachments", messages.Upload)
		r.Get("/conversations/{id}/stream", stream.Stream)
		r.Get("/wizard", wizards.Get)
		r.Post("/wizard/method", wizards.SelectMethod)
		r.Patch("/wizard", wizards.Update)
		r.Delete("/wizard", wizards.Reset)
		r.Post("/wizard/continue", wizards.Continue)
		r.Post("/wizard/back", wizards.Back)
		r.Post("/wizard/key", wizards.GenerateKey)
		r.Get("/wizard/artifact", wizards.Download)
		r.Post("/wizard/send", wizards.Send)
		r.Post("/decode", decodes.Open)
		r.Get("/decode", decodes.Get)
		r.Post("/decode/submit", decodes.Submit)
		r.Delete("/decode", decodes.Close)
	})

	return &fixture{
		store:     st,
		broker:    broker,
		directory: directory,
		delivery:  delivery,
		sessions:  sessions,
		router:    r,
	}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString err: %v", err)
	}
	return s
}

func (f *fixture) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal err: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+token(t, userID))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response err: %v (body %q)", err, rec.Body.String())
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status: got %d want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func TestConversationDirectory(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "alice", http.MethodPost, "/api/v1/conversations", map[string]string{"recipient_id": "bob"})
	expectStatus(t, rec, http.StatusOK)
	var entry model.DirectoryEntry
	decodeBody(t, rec, &entry)
	if entry.CounterpartName != "Bob" {
		t.Fatalf("unexpected counterpart: got %s want Bob", entry.CounterpartName)
	}

	rec = f.do(t, "bob", http.MethodPost, "/api/v1/conversations", map[string]string{"recipient_id": "alice"})
	expectStatus(t, rec, http.StatusOK)
	var reversed model.DirectoryEntry
	decodeBody(t, rec, &reversed)
	if reversed.ID != entry.ID {
		t.Fatalf("expected same conversation: got %s want %s", reversed.ID, entry.ID)
	}

	rec = f.do(t, "bob", http.MethodGet, "/api/v1/conversations", nil)
	expectStatus(t, rec, http.StatusOK)
	var list model.ListConversationsResponse
	decodeBody(t, rec, &list)
	if list.Total != 1 || list.Conversations[0].CounterpartName != "Alice" {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = f.do(t, "carol", http.MethodGet, "/api/v1/conversations/"+entry.ID, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/conversations/not-a-uuid", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/conversations", map[string]string{"recipient_id": "alice"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/conversations", map[string]string{"recipient_id": "nobody"})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestProfiles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "alice", http.MethodGet, "/api/v1/recipients", nil)
	expectStatus(t, rec, http.StatusOK)
	var resp handler.ProfilesResponse
	decodeBody(t, rec, &resp)
	if len(resp.Profiles) != 2 {
		t.Fatalf("unexpected recipients: %+v", resp.Profiles)
	}
	for _, p := range resp.Profiles {
		if p.ID == "alice" {
			t.Fatal("recipients must exclude the caller")
		}
	}

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/profiles?q=", nil)
	expectStatus(t, rec, http.StatusOK)
	resp = handler.ProfilesResponse{}
	decodeBody(t, rec, &resp)
	if len(resp.Profiles) != 0 {
		t.Fatalf("blank query must match nobody: %+v", resp.Profiles)
	}

	rec = f.do(t, "dave", http.MethodPut, "/api/v1/profile", map[string]string{"full_name": "Dave"})
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/profiles?q=dav", nil)
	resp = handler.ProfilesResponse{}
	decodeBody(t, rec, &resp)
	if len(resp.Profiles) != 1 || resp.Profiles[0].ID != "dave" {
		t.Fatalf("unexpected search result: %+v", resp.Profiles)
	}
}

func TestSendAndListMessages(t *testing.T) {
	f := newFixture(t)
	conv, err := f.directory.ResolveOrCreate(context.Background(), "alice", "bob", nil)
	if err != nil {
		t.Fatalf("ResolveOrCreate err: %v", err)
	}

	rec := f.do(t, "alice", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "hello"})
	expectStatus(t, rec, http.StatusCreated)

	rec = f.do(t, "carol", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "intrude"})
	expectStatus(t, rec, http.StatusForbidden)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "  "})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = f.do(t, "bob", http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", nil)
	expectStatus(t, rec, http.StatusOK)
	var resp model.ListMessagesResponse
	decodeBody(t, rec, &resp)
	if len(resp.Messages) != 1 || resp.Messages[0].HiddenContent != "hello" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}
}

func TestUploadAttachment(t *testing.T) {
	f := newFixture(t)
	conv, _ := f.directory.ResolveOrCreate(context.Background(), "alice", "bob", nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "notes.txt")
	part.Write([]byte("hidden words"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+conv.ID+"/attachments", &body)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	expectStatus(t, rec, http.StatusCreated)
	var msg model.Message
	decodeBody(t, rec, &msg)
	if msg.Attachment == nil || msg.Attachment.Name != "notes.txt" {
		t.Fatalf("unexpected attachment: %+v", msg.Attachment)
	}
	if msg.Preview != "📎 notes.txt" {
		t.Fatalf("unexpected preview: %s", msg.Preview)
	}
}

func TestWizardEncodeSendDecode(t *testing.T) {
	f := newFixture(t)

	steps := []struct {
		method string
		path   string
		body   any
		step   wizard.Step
	}{
		{http.MethodPost, "/api/v1/wizard/method", map[string]string{"method": "text"}, wizard.StepCoverSelect},
		{http.MethodPatch, "/api/v1/wizard", map[string]string{"cover": "text"}, wizard.StepCoverSelect},
		{http.MethodPost, "/api/v1/wizard/continue", nil, wizard.StepContentInput},
		{http.MethodPatch, "/api/v1/wizard", map[string]string{"cover_text": "the weather is fine", "secret_text": "meet at noon"}, wizard.StepContentInput},
		{http.MethodPost, "/api/v1/wizard/continue", nil, wizard.StepKeyInput},
		{http.MethodPatch, "/api/v1/wizard", map[string]string{"secret_key": "k123"}, wizard.StepKeyInput},
		{http.MethodPost, "/api/v1/wizard/continue", nil, wizard.StepCompletion},
	}
	for _, s := range steps {
		rec := f.do(t, "alice", s.method, s.path, s.body)
		expectStatus(t, rec, http.StatusOK)
		var snap wizard.Snapshot
		decodeBody(t, rec, &snap)
		if snap.Step != s.step {
			t.Fatalf("%s %s: unexpected step: got %s want %s", s.method, s.path, snap.Step, s.step)
		}
	}

	rec := f.do(t, "alice", http.MethodGet, "/api/v1/wizard/artifact", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Body.String(); got != "encoded:k123:meet at noon" {
		t.Fatalf("unexpected artifact: %q", got)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="stego_output.txt"` {
		t.Fatalf("unexpected disposition: %s", cd)
	}

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/wizard/send", map[string]string{"recipient_id": "bob"})
	expectStatus(t, rec, http.StatusCreated)
	var msg model.Message
	decodeBody(t, rec, &msg)
	if msg.HiddenContent != "encoded:k123:meet at noon" {
		t.Fatalf("unexpected hidden content: %q", msg.HiddenContent)
	}
	if n := f.sessions.ActiveWizards(); n != 0 {
		t.Fatalf("wizard kept after send: %d active", n)
	}

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/wizard", nil)
	var snap wizard.Snapshot
	decodeBody(t, rec, &snap)
	if snap.Step != wizard.StepIdle {
		t.Fatalf("wizard not reset after send: %s", snap.Step)
	}

	open := map[string]string{"conversation_id": msg.ConversationID, "message_id": msg.ID}
	rec = f.do(t, "carol", http.MethodPost, "/api/v1/decode", open)
	expectStatus(t, rec, http.StatusForbidden)

	rec = f.do(t, "bob", http.MethodPost, "/api/v1/decode", open)
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, "bob", http.MethodPost, "/api/v1/decode/submit", map[string]string{"key": "wrong"})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var failed struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &failed)
	if failed.Error != "Invalid key" {
		t.Fatalf("unexpected error: %s", failed.Error)
	}

	rec = f.do(t, "bob", http.MethodPost, "/api/v1/decode/submit", map[string]string{"key": "k123"})
	expectStatus(t, rec, http.StatusOK)
	var state struct {
		Plaintext *string `json:"decrypted_text"`
		Error     string  `json:"error"`
	}
	decodeBody(t, rec, &state)
	if state.Plaintext == nil || *state.Plaintext != "meet at noon" || state.Error != "" {
		t.Fatalf("unexpected decode state: %+v", state)
	}

	rec = f.do(t, "bob", http.MethodDelete, "/api/v1/decode", nil)
	expectStatus(t, rec, http.StatusNoContent)
	rec = f.do(t, "bob", http.MethodGet, "/api/v1/decode", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestWizardGates(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "alice", http.MethodPost, "/api/v1/wizard/continue", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/wizard/method", map[string]string{"method": "smoke"})
	expectStatus(t, rec, http.StatusBadRequest)

	f.do(t, "alice", http.MethodPost, "/api/v1/wizard/method", map[string]string{"method": "text"})
	rec = f.do(t, "alice", http.MethodPost, "/api/v1/wizard/continue", nil)
	expectStatus(t, rec, http.StatusBadRequest)
	var resp struct {
		Error string          `json:"error"`
		State wizard.Snapshot `json:"state"`
	}
	decodeBody(t, rec, &resp)
	if resp.State.Step != wizard.StepCoverSelect {
		t.Fatalf("blocked continue moved the wizard: %s", resp.State.Step)
	}

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/wizard/key", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/wizard/artifact", nil)
	expectStatus(t, rec, http.StatusConflict)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/wizard/back", nil)
	expectStatus(t, rec, http.StatusOK)
	var snap wizard.Snapshot
	decodeBody(t, rec, &snap)
	if snap.Step != wizard.StepIdle {
		t.Fatalf("back from cover select must reset: %s", snap.Step)
	}
}

func TestWizardReleasedOnReset(t *testing.T) {
	f := newFixture(t)

	f.do(t, "alice", http.MethodPost, "/api/v1/wizard/method", map[string]string{"method": "text"})
	f.do(t, "bob", http.MethodPost, "/api/v1/wizard/method", map[string]string{"method": "text"})
	if n := f.sessions.ActiveWizards(); n != 2 {
		t.Fatalf("unexpected active wizards: got %d want 2", n)
	}

	rec := f.do(t, "alice", http.MethodDelete, "/api/v1/wizard", nil)
	expectStatus(t, rec, http.StatusOK)
	var snap wizard.Snapshot
	decodeBody(t, rec, &snap)
	if snap.Step != wizard.StepIdle {
		t.Fatalf("unexpected step after reset: %s", snap.Step)
	}
	if n := f.sessions.ActiveWizards(); n != 1 {
		t.Fatalf("reset wizard not released: %d active", n)
	}

	// A session in progress is never dropped.
	if f.sessions.EndWizard("bob") {
		t.Fatal("EndWizard dropped a session in progress")
	}
	rec = f.do(t, "bob", http.MethodGet, "/api/v1/wizard", nil)
	decodeBody(t, rec, &snap)
	if snap.Step != wizard.StepCoverSelect {
		t.Fatalf("bob's session lost: %s", snap.Step)
	}

	first := f.sessions.Wizard("alice")
	if !f.sessions.EndWizard("alice") {
		t.Fatal("idle wizard not released")
	}
	if f.sessions.Wizard("alice") == first {
		t.Fatal("released wizard handed out again")
	}
}

func TestDecodeRejectsPlainMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _ := f.directory.ResolveOrCreate(ctx, "alice", "bob", nil)

	msg := &model.Message{
		ID:             "0190f5d2-7b3a-7000-8000-000000000001",
		ConversationID: conv.ID,
		SenderID:       "alice",
		Kind:           model.KindText,
		HiddenContent:  "plain",
		CreatedAt:      time.Now(),
	}
	if err := f.store.CommitMessage(ctx, msg, model.Summary{Text: "plain", Kind: model.KindText}); err != nil {
		t.Fatalf("CommitMessage err: %v", err)
	}

	rec := f.do(t, "bob", http.MethodPost, "/api/v1/decode", map[string]string{"conversation_id": conv.ID, "message_id": msg.ID})
	expectStatus(t, rec, http.StatusBadRequest)
}

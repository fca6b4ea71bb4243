package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/store"
)

func TestMemoryStoreCreateConversationIsPairUnique(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "alice", "bob", nil)
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}
	second, err := s.CreateConversation(ctx, "bob", "alice", &model.Summary{Text: "ignored", Kind: model.KindText})
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same conversation for reversed pair: got %s want %s", second.ID, first.ID)
	}
	if second.LastMessage != nil {
		t.Fatal("existing conversation must not be reseeded")
	}

	found, err := s.FindConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("FindConversation err: %v", err)
	}
	if found.ID != first.ID {
		t.Fatalf("unexpected conversation: %s", found.ID)
	}
}

func TestMemoryStoreFindConversationMissing(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.FindConversation(context.Background(), "alice", "carol")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCommitMessageUpdatesSummary(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, "alice", "bob", nil)
	at := time.Now().Add(time.Minute)
	msg := &model.Message{
		ID:             "m1",
		ConversationID: conv.ID,
		SenderID:       "alice",
		Kind:           model.KindFile,
		HiddenContent:  "encoded",
		Preview:        model.PreviewEncryptedMessage,
		CreatedAt:      at,
	}

	if err := s.CommitMessage(ctx, msg, model.Summary{Text: model.SummaryEncryptedMessage, Kind: model.KindFile}); err != nil {
		t.Fatalf("CommitMessage err: %v", err)
	}

	got, _ := s.GetConversation(ctx, conv.ID)
	if got.LastMessage == nil || *got.LastMessage != model.SummaryEncryptedMessage {
		t.Fatalf("summary not applied: %+v", got.LastMessage)
	}
	if got.LastMessageKind == nil || *got.LastMessageKind != model.KindFile {
		t.Fatalf("summary kind not applied: %+v", got.LastMessageKind)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Fatalf("updated_at not advanced: %s", got.UpdatedAt)
	}

	if err := s.CommitMessage(ctx, msg, model.Summary{}); err == nil {
		t.Fatal("expected duplicate message id to be rejected")
	}
}

func TestMemoryStoreCommitMessageUnknownConversation(t *testing.T) {
	s := store.NewMemoryStore()

	err := s.CommitMessage(context.Background(), &model.Message{ID: "m1", ConversationID: "nope"}, model.Summary{})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListMessagesSorted(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "alice", "bob", nil)

	base := time.Now()
	for _, m := range []model.Message{
		{ID: "c", CreatedAt: base.Add(2 * time.Second)},
		{ID: "a", CreatedAt: base},
		{ID: "b", CreatedAt: base.Add(time.Second)},
	} {
		m.ConversationID = conv.ID
		m.Kind = model.KindText
		if err := s.CommitMessage(ctx, &m, model.Summary{}); err != nil {
			t.Fatalf("CommitMessage err: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	var ids string
	for _, m := range msgs {
		ids += m.ID
	}
	if ids != "abc" {
		t.Fatalf("unexpected order: got %s want abc", ids)
	}
}

func TestMemoryStoreSearchProfiles(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.UpsertProfile(ctx, model.Profile{ID: "alice", FullName: "Alice Liddell"})
	s.UpsertProfile(ctx, model.Profile{ID: "bob", FullName: "Bob Alison"})
	s.UpsertProfile(ctx, model.Profile{ID: "carol", FullName: "Carol"})

	got, err := s.SearchProfiles(ctx, "ALI", "alice")
	if err != nil {
		t.Fatalf("SearchProfiles err: %v", err)
	}
	if len(got) != 1 || got[0].ID != "bob" {
		t.Fatalf("unexpected search result: %+v", got)
	}
}

func TestMemoryAttachmentsRoundTrip(t *testing.T) {
	a := store.NewMemoryAttachments()
	ctx := context.Background()

	if err := a.Upload(ctx, "c1/1_note.txt", []byte("payload")); err != nil {
		t.Fatalf("Upload err: %v", err)
	}
	data, err := a.Download(ctx, "c1/1_note.txt")
	if err != nil {
		t.Fatalf("Download err: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected data: %q", data)
	}

	if _, err := a.Download(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

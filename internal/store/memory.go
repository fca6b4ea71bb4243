package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
)

// MemoryStore is an in-process Store used for local development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	pairs         map[string]string
	messages      map[string][]model.Message
	messageIDs    map[string]struct{}
	profiles      map[string]model.Profile
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]model.Message),
		messageIDs:    make(map[string]struct{}),
		profiles:      make(map[string]model.Profile),
		now:           time.Now,
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() {}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	c := *conv
	return &c, nil
}

// FindConversation looks up the conversation for an unordered pair.
func (s *MemoryStore) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairs[model.PairKey(a, b)]
	if !ok {
		return nil, fmt.Errorf("conversation for pair: %w", apperrors.ErrNotFound)
	}
	c := *s.conversations[id]
	return &c, nil
}

// CreateConversation creates the pair's conversation unless it already exists.
func (s *MemoryStore) CreateConversation(ctx context.Context, a, b string, seed *model.Summary) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.PairKey(a, b)
	if id, ok := s.pairs[key]; ok {
		c := *s.conversations[id]
		return &c, nil
	}

	now := s.now()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if seed != nil {
		seed.Apply(conv, now)
	}

	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID

	c := *conv
	return &c, nil
}

// ListConversations returns the user's conversations, newest first.
func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			convs = append(convs, *conv)
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// ListMessages returns messages ascending by creation time.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]model.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(&msgs[j])
	})
	return msgs, nil
}

// GetMessage returns one message of a conversation.
func (s *MemoryStore) GetMessage(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages[conversationID] {
		if msg.ID == messageID {
			m := msg
			return &m, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", messageID, apperrors.ErrNotFound)
}

// CommitMessage inserts msg and updates the conversation summary under one lock.
func (s *MemoryStore) CommitMessage(ctx context.Context, msg *model.Message, summary model.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, apperrors.ErrNotFound)
	}
	if _, dup := s.messageIDs[msg.ID]; dup {
		return fmt.Errorf("message %s already exists", msg.ID)
	}

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	s.messageIDs[msg.ID] = struct{}{}
	summary.Apply(conv, msg.CreatedAt)
	return nil
}

// GetProfiles returns the profiles that exist among ids.
func (s *MemoryStore) GetProfiles(ctx context.Context, ids []string) ([]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Profile
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SearchProfiles matches names case-insensitively, excluding excludeID.
func (s *MemoryStore) SearchProfiles(ctx context.Context, query, excludeID string) ([]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []model.Profile
	for _, p := range s.profiles {
		if p.ID != excludeID && strings.Contains(strings.ToLower(p.FullName), q) {
			out = append(out, p)
		}
	}
	sortProfiles(out)
	return out, nil
}

// ListProfiles returns every profile except excludeID.
func (s *MemoryStore) ListProfiles(ctx context.Context, excludeID string) ([]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Profile
	for _, p := range s.profiles {
		if p.ID != excludeID {
			out = append(out, p)
		}
	}
	sortProfiles(out)
	return out, nil
}

// UpsertProfile creates or replaces a profile.
func (s *MemoryStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
	return nil
}

func sortProfiles(ps []model.Profile) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].FullName == ps[j].FullName {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].FullName < ps[j].FullName
	})
}

// MemoryAttachments is an in-process AttachmentStore.
type MemoryAttachments struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryAttachments creates an empty attachment store.
func NewMemoryAttachments() *MemoryAttachments {
	return &MemoryAttachments{blobs: make(map[string][]byte)}
}

// Upload stores a copy of data at path.
func (a *MemoryAttachments) Upload(ctx context.Context, path string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	a.mu.Lock()
	a.blobs[path] = buf
	a.mu.Unlock()
	return nil
}

// Download returns the bytes stored at path.
func (a *MemoryAttachments) Download(ctx context.Context, path string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data, ok := a.blobs[path]
	if !ok {
		return nil, fmt.Errorf("attachment %s: %w", path, apperrors.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

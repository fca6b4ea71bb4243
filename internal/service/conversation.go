// Package service provides the conversation directory and message delivery.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/store"
	"github.com/stegline/core/pkg/logger"
)

// DirectoryService lists and resolves the conversations a user takes part in.
type DirectoryService struct {
	conversations store.ConversationStore
	profiles      store.ProfileStore
	logger        *logger.Logger
}

// NewDirectoryService creates a new directory service.
func NewDirectoryService(conversations store.ConversationStore, profiles store.ProfileStore, log *logger.Logger) *DirectoryService {
	return &DirectoryService{
		conversations: conversations,
		profiles:      profiles,
		logger:        log.Named("directory"),
	}
}

// List returns the user's conversations, newest first, with counterpart names.
func (s *DirectoryService) List(ctx context.Context, userID string) (*model.ListConversationsResponse, error) {
	convs, err := s.conversations.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	entries, err := s.enrich(ctx, userID, convs)
	if err != nil {
		return nil, err
	}

	return &model.ListConversationsResponse{
		Conversations: entries,
		Total:         len(entries),
	}, nil
}

// SearchProfiles finds other users by name. A blank query matches nobody.
func (s *DirectoryService) SearchProfiles(ctx context.Context, userID, query string) ([]model.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Profile{}, nil
	}
	profiles, err := s.profiles.SearchProfiles(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to search profiles: %w", err)
	}
	return profiles, nil
}

// Recipients returns every user except userID.
func (s *DirectoryService) Recipients(ctx context.Context, userID string) ([]model.Profile, error) {
	profiles, err := s.profiles.ListProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// Start opens the conversation with counterpartID, creating it if needed.
func (s *DirectoryService) Start(ctx context.Context, userID, counterpartID string) (*model.DirectoryEntry, error) {
	conv, err := s.ResolveOrCreate(ctx, userID, counterpartID, nil)
	if err != nil {
		return nil, err
	}
	return s.entry(ctx, userID, conv)
}

// Open returns a conversation for a participant. Non-participants get
// ErrUnauthorized.
func (s *DirectoryService) Open(ctx context.Context, userID, conversationID string) (*model.DirectoryEntry, error) {
	conv, err := s.Authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.entry(ctx, userID, conv)
}

// Authorize fetches a conversation and checks that userID takes part in it.
func (s *DirectoryService) Authorize(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		s.logger.Warn("Rejected conversation access",
			zap.String("user_id", userID),
			zap.String("conversation_id", conversationID),
		)
		return nil, apperrors.ErrUnauthorized
	}
	return conv, nil
}

// ResolveOrCreate returns the conversation between userID and counterpartID
// in either participant order, creating it with seed when none exists.
// Repeated calls for the same pair return the same conversation.
func (s *DirectoryService) ResolveOrCreate(ctx context.Context, userID, counterpartID string, seed *model.Summary) (*model.Conversation, error) {
	if userID == "" || counterpartID == "" {
		return nil, fmt.Errorf("%w: both participants are required", apperrors.ErrValidation)
	}
	if userID == counterpartID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", apperrors.ErrValidation)
	}

	conv, err := s.conversations.FindConversation(ctx, userID, counterpartID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	profiles, err := s.profiles.GetProfiles(ctx, []string{counterpartID})
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipient: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("recipient %s: %w", counterpartID, apperrors.ErrNotFound)
	}

	conv, err = s.conversations.CreateConversation(ctx, userID, counterpartID, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("Conversation resolved",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID),
	)
	return conv, nil
}

func (s *DirectoryService) entry(ctx context.Context, userID string, conv *model.Conversation) (*model.DirectoryEntry, error) {
	entries, err := s.enrich(ctx, userID, []model.Conversation{*conv})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (s *DirectoryService) enrich(ctx context.Context, userID string, convs []model.Conversation) ([]model.DirectoryEntry, error) {
	ids := make([]string, 0, len(convs))
	for i := range convs {
		ids = append(ids, convs[i].Counterpart(userID))
	}

	names := make(map[string]string, len(ids))
	if len(ids) > 0 {
		profiles, err := s.profiles.GetProfiles(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load profiles: %w", err)
		}
		for _, p := range profiles {
			names[p.ID] = p.FullName
		}
	}

	entries := make([]model.DirectoryEntry, 0, len(convs))
	for _, conv := range convs {
		other := conv.Counterpart(userID)
		name, ok := names[other]
		if !ok || name == "" {
			name = model.UnknownUserName
		}
		entries = append(entries, model.DirectoryEntry{
			Conversation:    conv,
			CounterpartID:   other,
			CounterpartName: name,
		})
	}
	return entries, nil
}

// UpdateProfile sets the display name of userID.
func (s *DirectoryService) UpdateProfile(ctx context.Context, userID, fullName string) (*model.Profile, error) {
	fullName = strings.TrimSpace(fullName)
	if userID == "" || fullName == "" {
		return nil, fmt.Errorf("%w: full name is required", apperrors.ErrValidation)
	}
	p := model.Profile{ID: userID, FullName: fullName}
	if err := s.profiles.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &p, nil
}

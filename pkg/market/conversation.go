package market

import (
	"context"
	"fmt"

	"campusmarket/pkg/domain"
	"campusmarket/pkg/store"
)

// Participant identifies one side of a conversation.
type Participant struct {
	ID     string
	Name   string
	Avatar string
}

// ConversationService manages the conversations table.
type ConversationService struct {
	base
}

func NewConversationService(tables *store.Tables, opts ...Option) *ConversationService {
	return &ConversationService{base: newBase(tables, opts)}
}

// ByUserID returns every conversation the user participates in.
func (s *ConversationService) ByUserID(ctx context.Context, userID string) ([]domain.Conversation, error) {
	s.latency.wait()
	convs, err := s.tables.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ByID returns the conversation with id.
func (s *ConversationService) ByID(ctx context.Context, id string) (domain.Conversation, bool, error) {
	s.latency.wait()
	convs, err := s.tables.Conversations(ctx)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	for _, c := range convs {
		if c.ID == id {
			return c, true, nil
		}
	}
	return domain.Conversation{}, false, nil
}

// FindOrCreate returns the conversation between a and b regardless of order,
// creating it (with an empty message sequence) on first contact. Lookup and
// insert happen under the conversations lock, so repeated or concurrent calls
// for the same pair yield one conversation.
func (s *ConversationService) FindOrCreate(ctx context.Context, a, b Participant) (domain.Conversation, error) {
	s.latency.wait()
	var conv domain.Conversation
	err := s.tables.UpdateConversations(ctx, func(convs []domain.Conversation) ([]domain.Conversation, bool, error) {
		for _, c := range convs {
			if c.HasParticipant(a.ID) && c.HasParticipant(b.ID) {
				conv = c
				return convs, false, nil
			}
		}
		conv = domain.Conversation{
			ID:               newEntityID("conv"),
			ParticipantIDs:   []string{a.ID, b.ID},
			ParticipantNames: []string{a.Name, b.Name},
			UnreadCount:      0,
		}
		if a.Avatar != "" || b.Avatar != "" {
			conv.ParticipantAvatars = []string{a.Avatar, b.Avatar}
		}
		err := s.tables.UpdateMessages(ctx, func(msgs map[string][]domain.Message) (bool, error) {
			if _, ok := msgs[conv.ID]; ok {
				return false, nil
			}
			msgs[conv.ID] = []domain.Message{}
			return true, nil
		})
		if err != nil {
			return convs, false, err
		}
		return append(convs, conv), true, nil
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("find or create conversation: %w", err)
	}
	return conv, nil
}

// ResetUnread zeroes the shared unread counter and the caller's own counter.
// Unknown ids are ignored. This call skips the simulated latency.
func (s *ConversationService) ResetUnread(ctx context.Context, id, userID string) error {
	err := s.tables.UpdateConversations(ctx, func(convs []domain.Conversation) ([]domain.Conversation, bool, error) {
		for i := range convs {
			if convs[i].ID == id {
				clearUnread(&convs[i], userID)
				return convs, true, nil
			}
		}
		return convs, false, nil
	})
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func clearUnread(c *domain.Conversation, userID string) {
	c.UnreadCount = 0
	if c.UnreadBy != nil {
		delete(c.UnreadBy, userID)
		if len(c.UnreadBy) == 0 {
			c.UnreadBy = nil
		}
	}
}

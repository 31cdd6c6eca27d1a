package market

import (
	"context"
	"fmt"

	"campusmarket/pkg/domain"
	"campusmarket/pkg/store"
)

// MessageInput carries the caller-supplied fields of a new message.
type MessageInput struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// MessageService manages the conversationId -> messages mapping and keeps the
// parent conversation's summary fields in step.
type MessageService struct {
	base
}

func NewMessageService(tables *store.Tables, opts ...Option) *MessageService {
	return &MessageService{base: newBase(tables, opts)}
}

// ByConversationID returns the conversation's messages in chronological order.
func (s *MessageService) ByConversationID(ctx context.Context, conversationID string) ([]domain.Message, error) {
	s.latency.wait()
	msgs, err := s.tables.Messages(ctx)
	if err != nil {
		return nil, err
	}
	if out, ok := msgs[conversationID]; ok && out != nil {
		return out, nil
	}
	return []domain.Message{}, nil
}

// Send appends an unread message and updates the conversation's last message,
// shared unread counter and the receiver's own counter. The message is stored
// even if the conversation record is missing.
func (s *MessageService) Send(ctx context.Context, conversationID string, in MessageInput) (domain.Message, error) {
	s.latency.wait()
	msg := domain.Message{
		ID:         newMessageID(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		CreatedAt:  s.stamp(),
		Read:       false,
	}
	err := s.tables.UpdateConversationsAndMessages(ctx,
		func(msgs map[string][]domain.Message) (bool, error) {
			msgs[conversationID] = append(msgs[conversationID], msg)
			return true, nil
		},
		func(convs []domain.Conversation) ([]domain.Conversation, bool, error) {
			for i := range convs {
				if convs[i].ID != conversationID {
					continue
				}
				c := &convs[i]
				c.LastMessage = msg.Content
				sentAt := msg.CreatedAt
				c.LastMessageDate = &sentAt
				c.UnreadCount++
				if c.HasParticipant(msg.ReceiverID) {
					if c.UnreadBy == nil {
						c.UnreadBy = map[string]int{}
					}
					c.UnreadBy[msg.ReceiverID]++
				}
				return convs, true, nil
			}
			return convs, false, nil
		},
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// MarkAsRead flags every unread message addressed to userID as read and resets
// the conversation's unread counters.
func (s *MessageService) MarkAsRead(ctx context.Context, conversationID, userID string) error {
	s.latency.wait()
	err := s.tables.UpdateConversationsAndMessages(ctx,
		func(msgs map[string][]domain.Message) (bool, error) {
			thread, ok := msgs[conversationID]
			if !ok {
				msgs[conversationID] = []domain.Message{}
				return true, nil
			}
			for i := range thread {
				if thread[i].ReceiverID == userID && !thread[i].Read {
					thread[i].Read = true
				}
			}
			return true, nil
		},
		func(convs []domain.Conversation) ([]domain.Conversation, bool, error) {
			for i := range convs {
				if convs[i].ID == conversationID {
					clearUnread(&convs[i], userID)
					return convs, true, nil
				}
			}
			return convs, false, nil
		},
	)
	if err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	return nil
}

package services

import (
	"context"
	"strings"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/pkg/validation"
)

type messagingService struct {
	tx         groupTx
	groups     ports.GroupRepository
	users      ports.UserRepository
	newID      idSource
	now        clock
	maxTextLen int
}

func NewMessagingService(
	groups ports.GroupRepository,
	users ports.UserRepository,
	locker ports.Locker,
	maxTextLen int,
) ports.MessagingService {
	return &messagingService{
		tx:         groupTx{groups: groups, locker: locker},
		groups:     groups,
		users:      users,
		newID:      newUUID,
		now:        time.Now,
		maxTextLen: maxTextLen,
	}
}

// Send appends msg to the room's log and returns the stored message with its
// server-assigned id and timestamp.
func (s *messagingService) Send(ctx context.Context, room domain.RoomKey, msg domain.Message) (*domain.Message, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	msg.ImageURL = strings.TrimSpace(msg.ImageURL)
	if msg.Text == "" && msg.ImageURL == "" {
		return nil, domain.ErrEmptyMessage
	}
	if err := validation.ValidateMessageText(msg.Text, s.maxTextLen); err != nil {
		return nil, err
	}
	if msg.ImageURL != "" {
		if err := validation.ValidateImageURL(msg.ImageURL); err != nil {
			return nil, err
		}
	}

	msg.ID = s.newID()
	msg.Timestamp = s.now().UnixMilli()

	_, err := s.tx.update(ctx, room.GroupID, func(g *domain.Group) (bool, error) {
		ch := g.Channel(room.ChannelID)
		if ch == nil {
			return false, domain.ErrChannelNotFound
		}
		if err := canSpeak(ctx, s.users, g, msg.Username); err != nil {
			return false, err
		}
		ch.Messages = append(ch.Messages, msg)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *messagingService) History(ctx context.Context, room domain.RoomKey) ([]domain.Message, error) {
	group, err := s.groups.Get(ctx, room.GroupID)
	if err != nil {
		return nil, err
	}
	ch := group.Channel(room.ChannelID)
	if ch == nil {
		return nil, domain.ErrChannelNotFound
	}
	return append([]domain.Message{}, ch.Messages...), nil
}

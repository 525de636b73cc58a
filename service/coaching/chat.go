package coaching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	stream "github.com/GetStream/stream-chat-go/v5"
	"github.com/KAsare1/Stockalerts-server/cmd/models"
)

// ChatToken lets a client join the session's chat channel.
type ChatToken struct {
	Token     string    `json:"token"`
	APIKey    string    `json:"api_key"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Chat interface {
	Token(ctx context.Context, user *models.User, session *models.CoachingSession) (*ChatToken, error)
}

func chatUserID(id uint) string {
	return "user-" + strconv.FormatUint(uint64(id), 10)
}

func channelID(session *models.CoachingSession) string {
	return fmt.Sprintf("coaching-%d", session.ID)
}

// StreamChat issues GetStream chat tokens. The member and the coach share one messaging
// channel per session.
type StreamChat struct {
	client *stream.Client
	apiKey string
	ttl    time.Duration
}

func NewStreamChat(apiKey, apiSecret string, ttl time.Duration) (*StreamChat, error) {
	client, err := stream.NewClient(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("stream client: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StreamChat{client: client, apiKey: apiKey, ttl: ttl}, nil
}

func (s *StreamChat) Token(ctx context.Context, user *models.User, session *models.CoachingSession) (*ChatToken, error) {
	userID := chatUserID(user.ID)
	name := user.FullName
	if name == "" {
		name = user.Username
	}
	if _, err := s.client.UpsertUser(ctx, &stream.User{ID: userID, Name: name}); err != nil {
		return nil, fmt.Errorf("upsert chat user: %w", err)
	}

	members := []string{chatUserID(session.UserID)}
	if session.CoachID != nil {
		members = append(members, chatUserID(*session.CoachID))
	}
	if user.ID != session.UserID && (session.CoachID == nil || *session.CoachID != user.ID) {
		members = append(members, userID)
	}
	if _, err := s.client.CreateChannel(ctx, "messaging", channelID(session), userID, &stream.ChannelRequest{Members: members}); err != nil {
		return nil, fmt.Errorf("create chat channel: %w", err)
	}

	expires := time.Now().Add(s.ttl)
	token, err := s.client.CreateToken(userID, expires)
	if err != nil {
		return nil, fmt.Errorf("create chat token: %w", err)
	}
	return &ChatToken{
		Token:     token,
		APIKey:    s.apiKey,
		UserID:    userID,
		ChannelID: channelID(session),
		ExpiresAt: expires,
	}, nil
}

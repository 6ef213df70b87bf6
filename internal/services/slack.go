package services

import (
	"context"
	"fmt"

	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/slack-go/slack"
)

// slackAPI is the part of *slack.Client the service uses
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// SlackService handles Slack API interactions
type SlackService struct {
	client slackAPI
	config *config.Config
}

// NewSlackService creates a new Slack service instance
func NewSlackService(cfg *config.Config) *SlackService {
	s := &SlackService{config: cfg}
	if cfg.SlackBotToken != "" {
		s.client = slack.New(cfg.SlackBotToken)
	}
	return s
}

// Enabled reports whether a bot token was configured
func (s *SlackService) Enabled() bool {
	return s.client != nil
}

// Deliver posts text to a channel, group or user id, inside dest.ThreadRef
// when one is set.
func (s *SlackService) Deliver(ctx context.Context, dest Destination, text string) error {
	if s.client == nil {
		return fmt.Errorf("missing Slack client configuration")
	}
	if dest.ThreadRef != "" {
		return s.PostThreadReply(ctx, dest.ChatID, dest.ThreadRef, text)
	}

	_, _, err := s.client.PostMessageContext(ctx, dest.ChatID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

// PostThreadReply sends a reply to a message thread
func (s *SlackService) PostThreadReply(ctx context.Context, channelID, threadTS, text string) error {
	if s.client == nil {
		return fmt.Errorf("missing Slack client configuration")
	}

	_, _, err := s.client.PostMessageContext(ctx,
		channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("failed to post thread reply: %w", err)
	}
	return nil
}

// UserName returns the display name of a Slack user, falling back to the id
func (s *SlackService) UserName(ctx context.Context, userID string) string {
	if s.client == nil {
		return userID
	}

	user, err := s.client.GetUserInfoContext(ctx, userID)
	if err != nil || user == nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	if user.RealName != "" {
		return user.RealName
	}
	return user.Name
}

// ValidateToken validates the Slack bot token
func (s *SlackService) ValidateToken(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("missing Slack client configuration")
	}

	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("invalid Slack token: %w", err)
	}
	return nil
}

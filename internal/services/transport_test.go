package services

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlackAPI struct {
	channels []string
	threads  []string
	postErr  error
	user     *slack.User
	authErr  error
}

func (f *fakeSlackAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.postErr != nil {
		return "", "", f.postErr
	}
	_, values, err := slack.UnsafeApplyMsgOptions("token", channelID, "https://slack.com/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.channels = append(f.channels, channelID)
	f.threads = append(f.threads, values.Get("thread_ts"))
	return channelID, "1700000000.000100", nil
}

func (f *fakeSlackAPI) GetUserInfoContext(_ context.Context, user string) (*slack.User, error) {
	if f.user == nil {
		return nil, errors.New("user_not_found")
	}
	return f.user, nil
}

func (f *fakeSlackAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &slack.AuthTestResponse{UserID: "B1"}, nil
}

func TestSlackService(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without a token", func(t *testing.T) {
		s := NewSlackService(&config.Config{})
		assert.False(t, s.Enabled())
		assert.Error(t, s.Deliver(ctx, Destination{ChatID: "C1"}, "hi"))
		assert.Error(t, s.ValidateToken(ctx))
		assert.Equal(t, "U1", s.UserName(ctx, "U1"))
	})

	t.Run("delivers and threads", func(t *testing.T) {
		api := &fakeSlackAPI{}
		s := &SlackService{client: api, config: &config.Config{}}

		require.NoError(t, s.Deliver(ctx, Destination{ChatID: "C1"}, "hi"))
		require.NoError(t, s.Deliver(ctx, Destination{ChatID: "C2", ThreadRef: "1.2"}, "hi"))
		assert.Equal(t, []string{"C1", "C2"}, api.channels)
		assert.Equal(t, []string{"", "1.2"}, api.threads)

		api.postErr = errors.New("channel_not_found")
		assert.ErrorContains(t, s.Deliver(ctx, Destination{ChatID: "C3"}, "hi"), "channel_not_found")
	})

	t.Run("user names", func(t *testing.T) {
		tests := []struct {
			name     string
			user     *slack.User
			expected string
		}{
			{"display name", &slack.User{Name: "una", RealName: "Una Real", Profile: slack.UserProfile{DisplayName: "Una D"}}, "Una D"},
			{"real name", &slack.User{Name: "una", RealName: "Una Real"}, "Una Real"},
			{"handle", &slack.User{Name: "una"}, "una"},
			{"lookup fails", nil, "U1"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s := &SlackService{client: &fakeSlackAPI{user: tt.user}, config: &config.Config{}}
				assert.Equal(t, tt.expected, s.UserName(ctx, "U1"))
			})
		}
	})

	t.Run("token validation", func(t *testing.T) {
		s := &SlackService{client: &fakeSlackAPI{}, config: &config.Config{}}
		assert.NoError(t, s.ValidateToken(ctx))

		s.client = &fakeSlackAPI{authErr: errors.New("invalid_auth")}
		assert.ErrorContains(t, s.ValidateToken(ctx), "invalid_auth")
	})
}

type fakeTelegramAPI struct {
	sent  []tgbotapi.MessageConfig
	err   error
	delay time.Duration
}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	time.Sleep(f.delay)
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestTelegramService(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without a token", func(t *testing.T) {
		s, err := NewTelegramService(&config.Config{})
		require.NoError(t, err)
		assert.Nil(t, s.Bot())
		assert.Error(t, s.Deliver(ctx, Destination{ChatID: "42"}, "hi"))
	})

	t.Run("sends to numeric chats", func(t *testing.T) {
		api := &fakeTelegramAPI{}
		s := &TelegramService{api: api}

		require.NoError(t, s.Deliver(ctx, Destination{ChatID: "-100123"}, "hi"))
		require.Len(t, api.sent, 1)
		assert.Equal(t, int64(-100123), api.sent[0].ChatID)
		assert.Equal(t, "hi", api.sent[0].Text)

		assert.Error(t, s.Deliver(ctx, Destination{ChatID: "@channel"}, "hi"))
	})

	t.Run("send errors", func(t *testing.T) {
		s := &TelegramService{api: &fakeTelegramAPI{err: errors.New("Forbidden: bot was blocked by the user")}}
		assert.ErrorContains(t, s.Deliver(ctx, Destination{ChatID: "42"}, "hi"), "blocked")
	})

	t.Run("does not send once the context ended", func(t *testing.T) {
		api := &fakeTelegramAPI{}
		s := &TelegramService{api: api}

		ctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, s.Deliver(ctx, Destination{ChatID: "42"}, "hi"), context.Canceled)
		assert.Empty(t, api.sent)
	})

	t.Run("a slow send is not reported as failed", func(t *testing.T) {
		api := &fakeTelegramAPI{delay: 20 * time.Millisecond}
		s := &TelegramService{api: api}

		ctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		require.NoError(t, s.Deliver(ctx, Destination{ChatID: "42"}, "hi"))
		assert.Len(t, api.sent, 1)
	})
}

package discord

import (
	"context"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

type mockWebhookAPI struct {
	ChannelWebhooksFn      func(channelID string) ([]*discordgo.Webhook, error)
	WebhookCreateFn        func(channelID, name string) (*discordgo.Webhook, error)
	WebhookExecuteFn       func(webhookID, token string, data *discordgo.WebhookParams) (*discordgo.Message, error)
	WebhookMessageEditFn   func(webhookID, token, messageID string, data *discordgo.WebhookEdit) (*discordgo.Message, error)
	WebhookMessageDeleteFn func(webhookID, token, messageID string) error
	ChannelMessageDeleteFn func(channelID, messageID string) error

	creates int
}

func (m *mockWebhookAPI) ChannelWebhooks(channelID string, _ ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	if m.ChannelWebhooksFn != nil {
		return m.ChannelWebhooksFn(channelID)
	}
	return nil, nil
}

func (m *mockWebhookAPI) WebhookCreate(channelID, name, _ string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	m.creates++
	if m.WebhookCreateFn != nil {
		return m.WebhookCreateFn(channelID, name)
	}
	return &discordgo.Webhook{ID: "wh-" + channelID, Token: "tok", Name: name, ChannelID: channelID}, nil
}

func (m *mockWebhookAPI) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.WebhookExecuteFn != nil {
		return m.WebhookExecuteFn(webhookID, token, data)
	}
	return &discordgo.Message{ID: "m1"}, nil
}

func (m *mockWebhookAPI) WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.WebhookMessageEditFn != nil {
		return m.WebhookMessageEditFn(webhookID, token, messageID, data)
	}
	return &discordgo.Message{ID: messageID}, nil
}

func (m *mockWebhookAPI) WebhookMessageDelete(webhookID, token, messageID string, _ ...discordgo.RequestOption) error {
	if m.WebhookMessageDeleteFn != nil {
		return m.WebhookMessageDeleteFn(webhookID, token, messageID)
	}
	return nil
}

func (m *mockWebhookAPI) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	if m.ChannelMessageDeleteFn != nil {
		return m.ChannelMessageDeleteFn(channelID, messageID)
	}
	return nil
}

type memWebhookStore struct {
	mu       sync.Mutex
	webhooks map[string]domain.Webhook
	deleted  []string
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{webhooks: make(map[string]domain.Webhook)}
}

func (s *memWebhookStore) Get(_ context.Context, channelID string) (*domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[channelID]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return &w, nil
}

func (s *memWebhookStore) Save(_ context.Context, w domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ChannelID] = w
	return nil
}

func (s *memWebhookStore) Delete(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webhooks, channelID)
	s.deleted = append(s.deleted, channelID)
	return nil
}

type mockRoleAPI struct {
	UserFn                  func(userID string) (*discordgo.User, error)
	GuildMemberFn           func(guildID, userID string) (*discordgo.Member, error)
	GuildRolesFn            func(guildID string) ([]*discordgo.Role, error)
	GuildMemberRoleAddFn    func(guildID, userID, roleID string) error
	GuildMemberRoleRemoveFn func(guildID, userID, roleID string) error

	userCalls int
}

func (m *mockRoleAPI) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	m.userCalls++
	if m.UserFn != nil {
		return m.UserFn(userID)
	}
	return &discordgo.User{ID: "bot"}, nil
}

func (m *mockRoleAPI) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	return m.GuildMemberFn(guildID, userID)
}

func (m *mockRoleAPI) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return m.GuildRolesFn(guildID)
}

func (m *mockRoleAPI) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	if m.GuildMemberRoleAddFn != nil {
		return m.GuildMemberRoleAddFn(guildID, userID, roleID)
	}
	return nil
}

func (m *mockRoleAPI) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	if m.GuildMemberRoleRemoveFn != nil {
		return m.GuildMemberRoleRemoveFn(guildID, userID, roleID)
	}
	return nil
}

func restError(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status, Status: http.StatusText(status)},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: http.StatusText(status)},
	}
}

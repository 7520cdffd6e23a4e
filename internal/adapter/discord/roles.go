package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// RoleAPI is the subset of *discordgo.Session the role sink calls.
type RoleAPI interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// RoleSink reads and mutates member roles as the bot user.
type RoleSink struct {
	api     RoleAPI
	metrics *metrics.DiscordMetrics

	mu    sync.Mutex
	botID string
}

var _ domain.RoleSink = (*RoleSink)(nil)

func NewRoleSink(api RoleAPI, m *metrics.DiscordMetrics) *RoleSink {
	return &RoleSink{api: api, metrics: m}
}

// MemberRoles returns the member's role ids. A member who left the guild has none.
func (r *RoleSink) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := r.api.GuildMember(guildID, userID, withContext(ctx))
	if isCode(err, discordgo.ErrCodeUnknownMember) {
		observe(r.metrics, "member", nil)
		return nil, nil
	}
	err = classify(err)
	observe(r.metrics, "member", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member.Roles, nil
}

func (r *RoleSink) Add(ctx context.Context, guildID, userID, roleID string) error {
	err := classify(r.api.GuildMemberRoleAdd(guildID, userID, roleID, withContext(ctx)))
	observe(r.metrics, "role_add", err)
	if err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

// Remove is idempotent: removing a role from a member who left the guild succeeds.
func (r *RoleSink) Remove(ctx context.Context, guildID, userID, roleID string) error {
	err := r.api.GuildMemberRoleRemove(guildID, userID, roleID, withContext(ctx))
	if isCode(err, discordgo.ErrCodeUnknownMember) {
		err = nil
	}
	err = classify(err)
	observe(r.metrics, "role_remove", err)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

func (r *RoleSink) RoleExists(ctx context.Context, guildID, roleID string) (bool, error) {
	role, err := r.role(ctx, guildID, roleID)
	if err != nil {
		return false, err
	}
	return role != nil, nil
}

// IsRoleManageable reports whether the bot can assign the role: it must sit below the bot's highest role
// and must not belong to an integration.
func (r *RoleSink) IsRoleManageable(ctx context.Context, guildID, roleID string) (bool, error) {
	roles, err := r.roles(ctx, guildID)
	if err != nil {
		return false, err
	}

	byID := make(map[string]*discordgo.Role, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}
	target, ok := byID[roleID]
	if !ok || target.Managed {
		return false, nil
	}

	botID, err := r.botUserID(ctx)
	if err != nil {
		return false, err
	}
	bot, err := r.api.GuildMember(guildID, botID, withContext(ctx))
	err = classify(err)
	observe(r.metrics, "member", err)
	if err != nil {
		return false, fmt.Errorf("failed to get bot member: %w", err)
	}

	highest := -1
	for _, id := range bot.Roles {
		if role, ok := byID[id]; ok && role.Position > highest {
			highest = role.Position
		}
	}
	return target.Position < highest, nil
}

func (r *RoleSink) role(ctx context.Context, guildID, roleID string) (*discordgo.Role, error) {
	roles, err := r.roles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role, nil
		}
	}
	return nil, nil
}

func (r *RoleSink) roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	roles, err := r.api.GuildRoles(guildID, withContext(ctx))
	err = classify(err)
	observe(r.metrics, "roles", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

func (r *RoleSink) botUserID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.botID != "" {
		return r.botID, nil
	}

	me, err := r.api.User("@me", withContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to get bot user: %w", classify(err))
	}
	r.botID = me.ID
	return r.botID, nil
}

func isCode(err error, code int) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == code
}

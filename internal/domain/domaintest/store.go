// Package domaintest provides in-memory implementations of the domain ports. Test use only.
package domaintest

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// DB is the shared backing state of the in-memory repositories.
type DB struct {
	clock clockwork.Clock

	mu            sync.Mutex
	streamers     map[uuid.UUID]domain.Streamer
	subscriptions map[uuid.UUID]domain.Subscription
	guilds        map[string]domain.GuildSettings
	teams         map[uuid.UUID]domain.Team
	announcements map[domain.AnnouncementKey]domain.Announcement
	sessions      []domain.StreamSession
	blacklist     map[domain.IdentityKey]string
}

func NewDB(clock clockwork.Clock) *DB {
	return &DB{
		clock:         clock,
		streamers:     make(map[uuid.UUID]domain.Streamer),
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		guilds:        make(map[string]domain.GuildSettings),
		teams:         make(map[uuid.UUID]domain.Team),
		announcements: make(map[domain.AnnouncementKey]domain.Announcement),
		blacklist:     make(map[domain.IdentityKey]string),
	}
}

func (db *DB) Streamers() *Streamers         { return &Streamers{db} }
func (db *DB) Subscriptions() *Subscriptions { return &Subscriptions{db} }
func (db *DB) Guilds() *Guilds               { return &Guilds{db} }
func (db *DB) Teams() *Teams                 { return &Teams{db} }
func (db *DB) Announcements() *Announcements { return &Announcements{db} }
func (db *DB) Sessions() *Sessions           { return &Sessions{db} }
func (db *DB) Blacklist() *Blacklist         { return &Blacklist{db} }

// PutStreamer stores s, assigning an id when missing.
func (db *DB) PutStreamer(s domain.Streamer) domain.Streamer {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = db.clock.Now()
	}
	db.streamers[s.ID] = s
	return s
}

// PutSubscription stores s, assigning an id when missing.
func (db *DB) PutSubscription(s domain.Subscription) domain.Subscription {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = db.clock.Now().Add(time.Duration(len(db.subscriptions)) * time.Nanosecond)
	}
	db.subscriptions[s.ID] = s
	return s
}

func (db *DB) PutGuild(g domain.GuildSettings) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.guilds[g.GuildID] = g
}

func (db *DB) PutTeam(t domain.Team) domain.Team {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	db.teams[t.ID] = t
	return t
}

func (db *DB) PutAnnouncement(a domain.Announcement) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.announcements[a.Key()] = a
}

func (db *DB) DeleteSubscription(id uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.subscriptions, id)
}

// Streamer returns the stored streamer, for assertions.
func (db *DB) Streamer(id uuid.UUID) (domain.Streamer, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.streamers[id]
	return s, ok
}

func (db *DB) Subscription(id uuid.UUID) (domain.Subscription, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.subscriptions[id]
	return s, ok
}

func (db *DB) AllAnnouncements() []domain.Announcement {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.sortedAnnouncements()
}

func (db *DB) AllSessions() []domain.StreamSession {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.sessions)
}

func (db *DB) view(sub domain.Subscription) (domain.SubscriptionView, bool) {
	st, ok := db.streamers[sub.StreamerID]
	if !ok {
		return domain.SubscriptionView{}, false
	}
	v := domain.SubscriptionView{Subscription: sub, Streamer: st}
	if sub.TeamID != nil {
		if t, ok := db.teams[*sub.TeamID]; ok {
			v.Team = &t
		}
	}
	return v, true
}

func (db *DB) sortedSubscriptions() []domain.Subscription {
	subs := make([]domain.Subscription, 0, len(db.subscriptions))
	for _, s := range db.subscriptions {
		subs = append(subs, s)
	}
	slices.SortFunc(subs, func(a, b domain.Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return subs
}

func (db *DB) sortedAnnouncements() []domain.Announcement {
	out := make([]domain.Announcement, 0, len(db.announcements))
	for _, a := range db.announcements {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Announcement) int {
		if c := cmp.Compare(a.SubscriptionID.String(), b.SubscriptionID.String()); c != 0 {
			return c
		}
		return cmp.Compare(a.ChannelID, b.ChannelID)
	})
	return out
}

// Streamers implements domain.StreamerRepository.
type Streamers struct{ db *DB }

var _ domain.StreamerRepository = (*Streamers)(nil)

func (r *Streamers) GetByID(_ context.Context, id uuid.UUID) (*domain.Streamer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.streamers[id]
	if !ok {
		return nil, domain.ErrStreamerNotFound
	}
	return &s, nil
}

func (r *Streamers) GetByKey(_ context.Context, platform domain.Platform, nativeID string) (*domain.Streamer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.streamers {
		if s.Platform == platform && s.NativeID == nativeID {
			return &s, nil
		}
	}
	return nil, domain.ErrStreamerNotFound
}

func (r *Streamers) FindByUsername(_ context.Context, platform domain.Platform, username string) (*domain.Streamer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.streamers {
		if s.Platform == platform && strings.EqualFold(s.Username, username) {
			return &s, nil
		}
	}
	return nil, domain.ErrStreamerNotFound
}

func (r *Streamers) ListByDiscordUser(_ context.Context, discordUserID string) ([]domain.Streamer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Streamer
	for _, s := range r.db.streamers {
		if discordUserID != "" && s.DiscordUserID == discordUserID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b domain.Streamer) int { return cmp.Compare(a.ID.String(), b.ID.String()) })
	return out, nil
}

func (r *Streamers) Upsert(_ context.Context, n domain.NewStreamer) (*domain.Streamer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, s := range r.db.streamers {
		if s.Platform == n.Platform && s.NativeID == n.NativeID {
			s.Username = n.Username
			if n.DiscordUserID != "" && s.DiscordUserID == "" {
				s.DiscordUserID = n.DiscordUserID
			}
			if n.AvatarURL != "" && s.AvatarURL == "" {
				s.AvatarURL = n.AvatarURL
				s.AvatarSource = n.Platform
			}
			s.UpdatedAt = r.db.clock.Now()
			r.db.streamers[id] = s
			return &s, nil
		}
	}

	s := domain.Streamer{
		ID:            uuid.New(),
		Platform:      n.Platform,
		NativeID:      n.NativeID,
		Username:      n.Username,
		DiscordUserID: n.DiscordUserID,
		AvatarURL:     n.AvatarURL,
		CreatedAt:     r.db.clock.Now(),
		UpdatedAt:     r.db.clock.Now(),
	}
	if n.AvatarURL != "" {
		s.AvatarSource = n.Platform
	}
	r.db.streamers[s.ID] = s
	return &s, nil
}

func (r *Streamers) ApplyPatch(_ context.Context, id uuid.UUID, p domain.StreamerPatch) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.streamers[id]
	if !ok {
		return domain.ErrStreamerNotFound
	}
	if p.Username != nil {
		s.Username = *p.Username
	}
	if p.DiscordUserID != nil {
		s.DiscordUserID = *p.DiscordUserID
	}
	if p.AvatarURL != nil {
		s.AvatarURL = *p.AvatarURL
	}
	if p.AvatarSource != nil {
		s.AvatarSource = *p.AvatarSource
	}
	if len(p.AltUsernames) > 0 {
		alts := make(map[domain.Platform]string, len(s.AltUsernames)+len(p.AltUsernames))
		for k, v := range s.AltUsernames {
			alts[k] = v
		}
		for k, v := range p.AltUsernames {
			alts[k] = v
		}
		s.AltUsernames = alts
	}
	s.UpdatedAt = r.db.clock.Now()
	r.db.streamers[id] = s
	return nil
}

func (r *Streamers) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.streamers[id]; !ok {
		return domain.ErrStreamerNotFound
	}
	delete(r.db.streamers, id)
	for sid, s := range r.db.subscriptions {
		if s.StreamerID == id {
			delete(r.db.subscriptions, sid)
		}
	}
	return nil
}

// Subscriptions implements domain.SubscriptionRepository.
type Subscriptions struct{ db *DB }

var _ domain.SubscriptionRepository = (*Subscriptions)(nil)

func (r *Subscriptions) GetByID(_ context.Context, id uuid.UUID) (*domain.SubscriptionView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.subscriptions[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	v, ok := r.db.view(s)
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &v, nil
}

func (r *Subscriptions) ListForReconcile(_ context.Context) ([]domain.SubscriptionView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.SubscriptionView
	for _, s := range r.db.sortedSubscriptions() {
		if v, ok := r.db.view(s); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Subscriptions) ListByGuildAndUser(_ context.Context, guildID, discordUserID string) ([]domain.SubscriptionView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.SubscriptionView
	for _, s := range r.db.sortedSubscriptions() {
		if s.GuildID != guildID {
			continue
		}
		if v, ok := r.db.view(s); ok && v.Streamer.DiscordUserID == discordUserID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Subscriptions) ListByStreamer(_ context.Context, streamerID uuid.UUID) ([]domain.Subscription, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Subscription
	for _, s := range r.db.sortedSubscriptions() {
		if s.StreamerID == streamerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Subscriptions) ListByTeam(_ context.Context, teamID uuid.UUID) ([]domain.SubscriptionView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.SubscriptionView
	for _, s := range r.db.sortedSubscriptions() {
		if s.TeamID == nil || *s.TeamID != teamID {
			continue
		}
		if v, ok := r.db.view(s); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Subscriptions) Create(_ context.Context, n domain.NewSubscription) (*domain.Subscription, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, s := range r.db.subscriptions {
		if s.GuildID == n.GuildID && s.StreamerID == n.StreamerID && s.ChannelID == n.ChannelID {
			if s.TeamID == nil && n.TeamID != nil {
				s.TeamID = n.TeamID
				r.db.subscriptions[id] = s
			}
			return &s, nil
		}
	}
	s := domain.Subscription{
		ID:         uuid.New(),
		GuildID:    n.GuildID,
		StreamerID: n.StreamerID,
		ChannelID:  n.ChannelID,
		TeamID:     n.TeamID,
		CreatedAt:  r.db.clock.Now(),
	}
	r.db.subscriptions[s.ID] = s
	return &s, nil
}

func (r *Subscriptions) SetTeam(_ context.Context, id uuid.UUID, teamID *uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.subscriptions[id]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	s.TeamID = teamID
	r.db.subscriptions[id] = s
	return nil
}

func (r *Subscriptions) DeleteByStreamer(_ context.Context, streamerID uuid.UUID) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, s := range r.db.subscriptions {
		if s.StreamerID == streamerID {
			delete(r.db.subscriptions, id)
			n++
		}
	}
	return n, nil
}

func (r *Subscriptions) ManagedRoles(_ context.Context, guildID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	set := make(map[string]struct{})
	if g, ok := r.db.guilds[guildID]; ok && g.LiveRoleID != "" {
		set[g.LiveRoleID] = struct{}{}
	}
	for _, t := range r.db.teams {
		if t.GuildID == guildID && t.LiveRoleID != "" {
			set[t.LiveRoleID] = struct{}{}
		}
	}
	for _, s := range r.db.subscriptions {
		if s.GuildID == guildID && s.RoleID != "" {
			set[s.RoleID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (r *Subscriptions) PurgeRole(_ context.Context, guildID, roleID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if g, ok := r.db.guilds[guildID]; ok && g.LiveRoleID == roleID {
		g.LiveRoleID = ""
		r.db.guilds[guildID] = g
	}
	for id, t := range r.db.teams {
		if t.GuildID == guildID && t.LiveRoleID == roleID {
			t.LiveRoleID = ""
			r.db.teams[id] = t
		}
	}
	for id, s := range r.db.subscriptions {
		if s.GuildID == guildID && s.RoleID == roleID {
			s.RoleID = ""
			r.db.subscriptions[id] = s
		}
	}
	return nil
}

// Guilds implements domain.GuildRepository.
type Guilds struct{ db *DB }

var _ domain.GuildRepository = (*Guilds)(nil)

func (r *Guilds) GetSettings(_ context.Context, guildID string) (*domain.GuildSettings, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.guilds[guildID]
	if !ok {
		return nil, domain.ErrGuildNotFound
	}
	return &g, nil
}

// Teams implements domain.TeamRepository.
type Teams struct{ db *DB }

var _ domain.TeamRepository = (*Teams)(nil)

func (r *Teams) GetByID(_ context.Context, id uuid.UUID) (*domain.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.teams[id]
	if !ok {
		return nil, domain.ErrTeamNotFound
	}
	return &t, nil
}

func (r *Teams) List(_ context.Context) ([]domain.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.Team, 0, len(r.db.teams))
	for _, t := range r.db.teams {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b domain.Team) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *Teams) MarkSynced(_ context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.teams[id]
	if !ok {
		return domain.ErrTeamNotFound
	}
	t.LastSyncedAt = &at
	r.db.teams[id] = t
	return nil
}

// Announcements implements domain.AnnouncementRepository.
type Announcements struct{ db *DB }

var _ domain.AnnouncementRepository = (*Announcements)(nil)

func (r *Announcements) List(_ context.Context) ([]domain.Announcement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.sortedAnnouncements(), nil
}

func (r *Announcements) ListBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]domain.Announcement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Announcement
	for _, a := range r.db.sortedAnnouncements() {
		if a.SubscriptionID == subscriptionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Announcements) ListByStreamer(_ context.Context, streamerID uuid.UUID) ([]domain.Announcement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Announcement
	for _, a := range r.db.sortedAnnouncements() {
		if a.StreamerID == streamerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Announcements) Get(_ context.Context, key domain.AnnouncementKey) (*domain.Announcement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.announcements[key]
	if !ok {
		return nil, domain.ErrAnnouncementNotFound
	}
	return &a, nil
}

func (r *Announcements) Upsert(_ context.Context, a domain.Announcement) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.clock.Now()
	if existing, ok := r.db.announcements[a.Key()]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.db.announcements[a.Key()] = a
	return nil
}

func (r *Announcements) Delete(_ context.Context, key domain.AnnouncementKey) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.announcements, key)
	return nil
}

// Sessions implements domain.SessionRepository.
type Sessions struct{ db *DB }

var _ domain.SessionRepository = (*Sessions)(nil)

func (r *Sessions) Open(_ context.Context, s domain.StreamSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.sessions {
		if existing.SubscriptionID == s.SubscriptionID && existing.EndedAt == nil {
			return nil
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.db.sessions = append(r.db.sessions, s)
	return nil
}

func (r *Sessions) TrackViewers(_ context.Context, subscriptionID uuid.UUID, viewers int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, s := range r.db.sessions {
		if s.SubscriptionID == subscriptionID && s.EndedAt == nil && viewers > s.PeakViewers {
			r.db.sessions[i].PeakViewers = viewers
		}
	}
	return nil
}

func (r *Sessions) Close(_ context.Context, subscriptionID uuid.UUID, at time.Time) (*domain.StreamSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, s := range r.db.sessions {
		if s.SubscriptionID == subscriptionID && s.EndedAt == nil {
			r.db.sessions[i].EndedAt = &at
			closed := r.db.sessions[i]
			return &closed, nil
		}
	}
	return nil, nil
}

func (r *Sessions) CloseByStreamer(_ context.Context, streamerID uuid.UUID, at time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for i, s := range r.db.sessions {
		if s.StreamerID == streamerID && s.EndedAt == nil {
			r.db.sessions[i].EndedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *Sessions) Last(_ context.Context, subscriptionID uuid.UUID) (*domain.StreamSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := len(r.db.sessions) - 1; i >= 0; i-- {
		if r.db.sessions[i].SubscriptionID == subscriptionID {
			s := r.db.sessions[i]
			return &s, nil
		}
	}
	return nil, nil
}

// Blacklist implements domain.Blacklist.
type Blacklist struct{ db *DB }

var _ domain.Blacklist = (*Blacklist)(nil)

func (r *Blacklist) IsBlacklisted(_ context.Context, platform domain.Platform, nativeID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, ok := r.db.blacklist[domain.IdentityKey{Platform: platform, NativeID: nativeID}]
	return ok, nil
}

func (r *Blacklist) Add(_ context.Context, platform domain.Platform, nativeID, reason string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.blacklist[domain.IdentityKey{Platform: platform, NativeID: nativeID}] = reason
	return nil
}

package domaintest

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// Probe is a scripted domain.Probe. Unscripted identities are offline.
type Probe struct {
	P domain.Platform

	mu        sync.Mutex
	snapshots map[domain.IdentityKey]domain.LiveSnapshot
	errs      map[domain.IdentityKey]error
	calls     map[domain.IdentityKey]int
	users     map[string]domain.Identity
}

var _ domain.Probe = (*Probe)(nil)

func NewProbe(p domain.Platform) *Probe {
	return &Probe{
		P:         p,
		snapshots: make(map[domain.IdentityKey]domain.LiveSnapshot),
		errs:      make(map[domain.IdentityKey]error),
		calls:     make(map[domain.IdentityKey]int),
		users:     make(map[string]domain.Identity),
	}
}

// SetLive scripts id as live with the given snapshot.
func (p *Probe) SetLive(id domain.Identity, snap domain.LiveSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap.IsLive = true
	snap.Platform = p.P
	p.snapshots[id.Key()] = snap
	delete(p.errs, id.Key())
}

func (p *Probe) SetOffline(id domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.snapshots, id.Key())
	delete(p.errs, id.Key())
}

func (p *Probe) SetError(id domain.Identity, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[id.Key()] = err
}

// AddUser makes GetUserIdentity resolve username.
func (p *Probe) AddUser(id domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[id.Username] = id
}

func (p *Probe) Calls(id domain.Identity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id.Key()]
}

func (p *Probe) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *Probe) Platform() domain.Platform { return p.P }

func (p *Probe) IsLive(_ context.Context, id domain.Identity) (domain.LiveSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := id.Key()
	p.calls[key]++
	if err, ok := p.errs[key]; ok {
		return domain.LiveSnapshot{}, err
	}
	if snap, ok := p.snapshots[key]; ok {
		return snap, nil
	}
	return domain.Offline(p.P), nil
}

func (p *Probe) GetStreamDetails(ctx context.Context, id domain.Identity) (*domain.StreamDetails, error) {
	snap, err := p.IsLive(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.StreamDetails{LiveSnapshot: snap}, nil
}

func (p *Probe) GetUserIdentity(_ context.Context, username string) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.users[username]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return &id, nil
}

// Message is a message held by Sink.
type Message struct {
	ChannelID string
	ID        string
	Payload   domain.MessagePayload
	Edits     int
}

// Sink is an in-memory domain.MessagingSink. SendErr, EditErr and DeleteErr, when set, are returned instead.
type Sink struct {
	SendErr   func(channelID string) error
	EditErr   func(channelID, messageID string) error
	DeleteErr func(channelID, messageID string) error

	mu       sync.Mutex
	next     int
	messages map[string]*Message
	sends    int
	deletes  int
}

var _ domain.MessagingSink = (*Sink)(nil)

func NewSink() *Sink {
	return &Sink{messages: make(map[string]*Message)}
}

func (s *Sink) Send(_ context.Context, channelID string, payload domain.MessagePayload) (domain.MessageRef, error) {
	if s.SendErr != nil {
		if err := s.SendErr(channelID); err != nil {
			return domain.MessageRef{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.sends++
	id := "m" + strconv.Itoa(s.next)
	s.messages[id] = &Message{ChannelID: channelID, ID: id, Payload: payload}
	return domain.MessageRef{ChannelID: channelID, MessageID: id}, nil
}

func (s *Sink) Edit(_ context.Context, channelID, messageID string, payload domain.MessagePayload) (domain.MessageRef, error) {
	if s.EditErr != nil {
		if err := s.EditErr(channelID, messageID); err != nil {
			return domain.MessageRef{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return domain.MessageRef{}, domain.ErrMessageNotFound
	}
	m.Payload = payload
	m.Edits++
	return domain.MessageRef{ChannelID: channelID, MessageID: messageID}, nil
}

func (s *Sink) Delete(_ context.Context, channelID, messageID string) error {
	if s.DeleteErr != nil {
		if err := s.DeleteErr(channelID, messageID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return domain.ErrMessageNotFound
	}
	delete(s.messages, messageID)
	s.deletes++
	return nil
}

// Drop removes a message out of band, as a moderator would.
func (s *Sink) Drop(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID)
}

func (s *Sink) Message(messageID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Messages returns the live messages of a channel.
func (s *Sink) Messages(channelID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ChannelID == channelID {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Message) int { return compareIDs(a.ID, b.ID) })
	return out
}

func (s *Sink) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *Sink) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

func compareIDs(a, b string) int {
	na, _ := strconv.Atoi(a[1:])
	nb, _ := strconv.Atoi(b[1:])
	return na - nb
}

type memberKey struct{ guild, user string }

// Roles is an in-memory domain.RoleSink. Roles must be declared with AddRole before they exist.
type Roles struct {
	// MutateErr, when set, fails Add and Remove.
	MutateErr func(op, roleID string) error

	mu         sync.Mutex
	roles      map[memberKey]bool
	unmanaged  map[memberKey]bool
	members    map[memberKey]map[string]bool
	mutations  int
	lookupErrs error
}

var _ domain.RoleSink = (*Roles)(nil)

func NewRoles() *Roles {
	return &Roles{
		roles:     make(map[memberKey]bool),
		unmanaged: make(map[memberKey]bool),
		members:   make(map[memberKey]map[string]bool),
	}
}

func (r *Roles) AddRole(guildID, roleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[memberKey{guildID, roleID}] = true
}

func (r *Roles) DeleteRole(guildID, roleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, memberKey{guildID, roleID})
}

// SetUnmanageable marks a role as above the bot's highest role.
func (r *Roles) SetUnmanageable(guildID, roleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmanaged[memberKey{guildID, roleID}] = true
}

// SetLookupError makes MemberRoles fail.
func (r *Roles) SetLookupError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookupErrs = err
}

// Grant gives a member a role without counting it as a mutation.
func (r *Roles) Grant(guildID, userID string, roleIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memberKey{guildID, userID}
	if r.members[k] == nil {
		r.members[k] = make(map[string]bool)
	}
	for _, id := range roleIDs {
		r.members[k][id] = true
	}
}

func (r *Roles) Has(guildID, userID, roleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[memberKey{guildID, userID}][roleID]
}

func (r *Roles) Mutations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutations
}

func (r *Roles) MemberRoles(_ context.Context, guildID, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErrs != nil {
		return nil, r.lookupErrs
	}
	var out []string
	for id := range r.members[memberKey{guildID, userID}] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (r *Roles) Add(_ context.Context, guildID, userID, roleID string) error {
	if r.MutateErr != nil {
		if err := r.MutateErr("add", roleID); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memberKey{guildID, userID}
	if r.members[k] == nil {
		r.members[k] = make(map[string]bool)
	}
	r.members[k][roleID] = true
	r.mutations++
	return nil
}

func (r *Roles) Remove(_ context.Context, guildID, userID, roleID string) error {
	if r.MutateErr != nil {
		if err := r.MutateErr("remove", roleID); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[memberKey{guildID, userID}], roleID)
	r.mutations++
	return nil
}

func (r *Roles) RoleExists(_ context.Context, guildID, roleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[memberKey{guildID, roleID}], nil
}

func (r *Roles) IsRoleManageable(_ context.Context, guildID, roleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.unmanaged[memberKey{guildID, roleID}], nil
}

// Roster is a scripted domain.TeamRoster.
type Roster struct {
	mu      sync.Mutex
	members map[string][]domain.Identity
	errs    map[string]error
}

var _ domain.TeamRoster = (*Roster)(nil)

func NewRoster() *Roster {
	return &Roster{members: make(map[string][]domain.Identity), errs: make(map[string]error)}
}

func (r *Roster) Set(teamName string, members ...domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[teamName] = members
	delete(r.errs, teamName)
}

func (r *Roster) SetError(teamName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[teamName] = err
}

func (r *Roster) Members(_ context.Context, team domain.Team) ([]domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.errs[team.Name]; ok {
		return nil, err
	}
	return slices.Clone(r.members[team.Name]), nil
}

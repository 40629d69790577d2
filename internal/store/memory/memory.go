// Package memory is an in-process store.Store. It enforces the same
// uniqueness and conditional-update rules as the Postgres schema so the
// services behave identically against it; it backs the tests and
// single-process local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-backend/internal/clock"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"

	"github.com/google/uuid"
)

type grantKey struct{ owner, viewer string }

type convKey struct{ listing, a, b string }

type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	pings        map[string]*models.Ping
	convs        map[string]*models.Conversation
	convByKey    map[convKey]string
	messages     map[string]*models.Message
	chatMessages map[string][]string
	grants       map[grantKey]models.PhoneUnlockGrant
	users        map[string]*models.User
	listings     map[string]models.Listing
	nextUserID   int
}

var _ store.Store = (*Store)(nil)

func New(clk clock.Clock) *Store {
	return &Store{
		clock:        clk,
		pings:        make(map[string]*models.Ping),
		convs:        make(map[string]*models.Conversation),
		convByKey:    make(map[convKey]string),
		messages:     make(map[string]*models.Message),
		chatMessages: make(map[string][]string),
		grants:       make(map[grantKey]models.PhoneUnlockGrant),
		users:        make(map[string]*models.User),
		listings:     make(map[string]models.Listing),
	}
}

func (s *Store) Pings() store.PingRepository                 { return pingRepo{s} }
func (s *Store) Conversations() store.ConversationRepository { return convRepo{s} }
func (s *Store) Messages() store.MessageRepository           { return messageRepo{s} }
func (s *Store) Grants() store.GrantRepository               { return grantRepo{s} }
func (s *Store) Users() store.UserRepository                 { return userRepo{s} }
func (s *Store) Listings() store.ListingDirectory            { return listingRepo{s} }

// AddListing registers a listing in the directory.
func (s *Store) AddListing(l models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

// ConversationCount returns how many conversations exist for the listing
// and unordered pair.
func (s *Store) ConversationCount(listingID, userA, userB string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, b := models.OrderedPair(userA, userB)
	n := 0
	for _, c := range s.convs {
		if c.ListingID == listingID && c.ParticipantA == a && c.ParticipantB == b {
			n++
		}
	}
	return n
}

// PingCount returns how many ping rows exist for the triple.
func (s *Store) PingCount(t store.Triple) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pings {
		if matches(p, t) {
			n++
		}
	}
	return n
}

func matches(p *models.Ping, t store.Triple) bool {
	return p.ListingID == t.ListingID && p.SenderUsername == t.Sender && p.ReceiverUsername == t.Receiver
}

// pings

type pingRepo struct{ s *Store }

func (r pingRepo) Insert(_ context.Context, p *models.Ping) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t := store.Triple{ListingID: p.ListingID, Sender: p.SenderUsername, Receiver: p.ReceiverUsername}
	for _, existing := range s.pings {
		if matches(existing, t) && existing.Status == models.PingPending {
			return store.ErrUniqueViolation
		}
	}

	now := s.clock.Now()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = models.PingPending
	p.CreatedAt = now
	p.LastPingAt = now
	if p.PingCount == 0 {
		p.PingCount = 1
	}
	cp := *p
	s.pings[p.ID] = &cp
	return nil
}

func (r pingRepo) GetByID(_ context.Context, id string) (*models.Ping, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r pingRepo) FindOpen(_ context.Context, t store.Triple) (*models.Ping, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.Ping
	for _, p := range r.s.pings {
		if !matches(p, t) || p.Status == models.PingDeclined {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r pingRepo) Respond(_ context.Context, id string, status models.PingStatus, responseMessage *string) (*models.Ping, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status != models.PingPending {
		return nil, store.ErrStaleStatus
	}
	now := s.clock.Now()
	minutes := int(now.Sub(p.CreatedAt) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	p.Status = status
	p.RespondedAt = &now
	p.ResponseTimeMinutes = &minutes
	p.ResponseMessage = responseMessage
	cp := *p
	return &cp, nil
}

func (r pingRepo) Bump(_ context.Context, id string) (*models.Ping, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status != models.PingAccepted {
		return nil, store.ErrStaleStatus
	}
	p.PingCount++
	p.LastPingAt = s.clock.Now()
	cp := *p
	return &cp, nil
}

func (r pingRepo) ListByReceiver(_ context.Context, receiver string, limit int) ([]models.Ping, error) {
	return r.list(func(p *models.Ping) bool { return p.ReceiverUsername == receiver }, limit), nil
}

func (r pingRepo) ListBySender(_ context.Context, sender string, limit int) ([]models.Ping, error) {
	return r.list(func(p *models.Ping) bool { return p.SenderUsername == sender }, limit), nil
}

func (r pingRepo) list(keep func(*models.Ping) bool, limit int) []models.Ping {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Ping
	for _, p := range r.s.pings {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastPingAt.After(out[j].LastPingAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// conversations

type convRepo struct{ s *Store }

func (r convRepo) Find(_ context.Context, listingID, userA, userB string) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, b := models.OrderedPair(userA, userB)
	id, ok := r.s.convByKey[convKey{listingID, a, b}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r.s.convs[id]
	return &cp, nil
}

func (r convRepo) Insert(_ context.Context, c *models.Conversation) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ParticipantA, c.ParticipantB = models.OrderedPair(c.ParticipantA, c.ParticipantB)
	key := convKey{c.ListingID, c.ParticipantA, c.ParticipantB}
	if _, exists := s.convByKey[key]; exists {
		return store.ErrUniqueViolation
	}
	now := s.clock.Now()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.ConversationActive
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.convs[c.ID] = &cp
	s.convByKey[key] = c.ID
	return nil
}

func (r convRepo) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r convRepo) ListForUser(_ context.Context, username string) ([]models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Conversation
	for _, c := range r.s.convs {
		if c.HasParticipant(username) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r convRepo) SetStatus(_ context.Context, id string, from, to models.ConversationStatus) (*models.Conversation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.Status != from {
		return nil, store.ErrStaleStatus
	}
	c.Status = to
	c.UpdatedAt = s.clock.Now()
	cp := *c
	return &cp, nil
}

// messages

type messageRepo struct{ s *Store }

func (r messageRepo) Append(_ context.Context, m *models.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[m.ChatID]
	if !ok {
		return store.ErrNotFound
	}

	ts := s.clock.Now()
	if ids := s.chatMessages[m.ChatID]; len(ids) > 0 {
		last := s.messages[ids[len(ids)-1]].CreatedAt
		if !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" || m.Status == models.MessageSending {
		m.Status = models.MessageSent
	}
	m.CreatedAt = ts
	cp := *m
	s.messages[m.ID] = &cp
	s.chatMessages[m.ChatID] = append(s.chatMessages[m.ChatID], m.ID)

	c.LastMessage = m.Text
	c.UpdatedAt = ts
	return nil
}

func (r messageRepo) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r messageRepo) List(_ context.Context, chatID string, limit int) ([]models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := r.s.chatMessages[chatID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.s.messages[id])
	}
	return out, nil
}

func (r messageRepo) Advance(_ context.Context, id string, status models.MessageStatus) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !m.Status.Advances(status) {
		return nil, store.ErrStaleStatus
	}
	m.Status = status
	cp := *m
	return &cp, nil
}

func (r messageRepo) MarkReadBefore(_ context.Context, chatID, reader string, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range r.s.chatMessages[chatID] {
		m := r.s.messages[id]
		if m.SenderUsername == reader || m.CreatedAt.After(before) {
			continue
		}
		if m.Status.Advances(models.MessageRead) {
			m.Status = models.MessageRead
			n++
		}
	}
	return n, nil
}

// grants

type grantRepo struct{ s *Store }

func (r grantRepo) Upsert(_ context.Context, g models.PhoneUnlockGrant) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{g.Owner, g.UnlockedBy}
	if _, ok := s.grants[key]; ok {
		return nil
	}
	if g.UnlockedAt.IsZero() {
		g.UnlockedAt = s.clock.Now()
	}
	s.grants[key] = g
	return nil
}

func (r grantRepo) Exists(_ context.Context, owner, viewer string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.grants[grantKey{owner, viewer}]
	return ok, nil
}

func (r grantRepo) Delete(_ context.Context, owner, viewer string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.grants, grantKey{owner, viewer})
	return nil
}

func (r grantRepo) DeleteAll(_ context.Context, owner string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for key := range r.s.grants {
		if key.owner == owner {
			delete(r.s.grants, key)
			n++
		}
	}
	return n, nil
}

func (r grantRepo) ListByOwner(_ context.Context, owner string) ([]models.PhoneUnlockGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.PhoneUnlockGrant
	for key, g := range r.s.grants {
		if key.owner == owner {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

// users and listings

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *models.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Username]; exists {
		return store.ErrUniqueViolation
	}
	s.nextUserID++
	u.ID = s.nextUserID
	u.CreatedAt = s.clock.Now()
	if u.PhonePreference == "" {
		u.PhonePreference = models.PhonePingConfirmation
	}
	cp := *u
	s.users[u.Username] = &cp
	return nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r userRepo) SetPhone(_ context.Context, username string, phone *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Phone = phone
	return nil
}

func (r userRepo) SetPhonePreference(_ context.Context, username string, pref models.PhonePreference) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	u.PhonePreference = pref
	return nil
}

type listingRepo struct{ s *Store }

func (r listingRepo) GetListing(_ context.Context, listingID string) (*models.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[listingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

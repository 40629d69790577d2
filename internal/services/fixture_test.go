package services

import (
	"context"
	"testing"
	"time"

	"marketplace-backend/internal/auth"
	"marketplace-backend/internal/clock"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/notify"
	"marketplace-backend/internal/ratelimit"
	"marketplace-backend/internal/store"
	"marketplace-backend/internal/store/memory"

	"go.uber.org/zap"
)

const (
	listingID = "L42"
	buyer     = "alice"
	seller    = "bob"
	bobPhone  = "+15550100"
)

type fixture struct {
	store  *memory.Store
	clock  *clock.FakeClock
	events *notify.Recorder

	pings    *PingService
	convs    *ConversationService
	messages *MessageService
	phones   *PhoneService
	users    *UserService
}

type fixtureOptions struct {
	pingCapacity    int
	messageCapacity int
	convs           func(store.ConversationRepository) store.ConversationRepository
}

func newFixture(t *testing.T, opts ...func(*fixtureOptions)) *fixture {
	t.Helper()
	o := fixtureOptions{pingCapacity: 100, messageCapacity: 100}
	for _, fn := range opts {
		fn(&o)
	}

	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memory.New(clk)
	log := zap.NewNop()

	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(clk), ratelimit.Options{
		Policies: map[ratelimit.Action]ratelimit.Policy{
			ratelimit.ActionPing:    {Capacity: o.pingCapacity, Window: time.Hour},
			ratelimit.ActionMessage: {Capacity: o.messageCapacity, Window: time.Minute},
		},
		FailureMode: ratelimit.FailClosed,
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}

	convRepo := st.Conversations()
	if o.convs != nil {
		convRepo = o.convs(convRepo)
	}

	validator := NewValidator(TextPolicy{MaxLength: 200, ForbiddenTerms: []string{"wire transfer"}})
	events := &notify.Recorder{}
	phones := NewPhoneService(st.Users(), st.Grants(), log)
	convs := NewConversationService(convRepo, st.Messages(), log)
	f := &fixture{
		store:  st,
		clock:  clk,
		events: events,
		convs:  convs,
		phones: phones,
		pings: NewPingService(PingDeps{
			Pings:         st.Pings(),
			Listings:      st.Listings(),
			Users:         st.Users(),
			Conversations: convs,
			Phones:        phones,
			Limiter:       limiter,
			Validator:     validator,
			Notifier:      events,
			Clock:         clk,
			Logger:        log,
		}),
		messages: NewMessageService(MessageDeps{
			Conversations: convRepo,
			Messages:      st.Messages(),
			Limiter:       limiter,
			Validator:     validator,
			Notifier:      events,
			Clock:         clk,
			Logger:        log,
		}),
		users: NewUserService(st.Users(), auth.NewAuthenticator("test-secret", "test", time.Hour, 24*time.Hour), log),
	}

	ctx := context.Background()
	phone := bobPhone
	if err := st.Users().Create(ctx, &models.User{Username: buyer}); err != nil {
		t.Fatal(err)
	}
	if err := st.Users().Create(ctx, &models.User{Username: seller, Phone: &phone, PhonePreference: models.PhonePingConfirmation}); err != nil {
		t.Fatal(err)
	}
	st.AddListing(models.Listing{ID: listingID, OwnerUsername: seller})
	return f
}

// acceptedPing runs a ping from buyer to seller through acceptance.
func (f *fixture) acceptedPing(t *testing.T, message string) *models.Ping {
	t.Helper()
	ctx := context.Background()
	res, err := f.pings.Create(ctx, listingID, buyer, seller, message)
	if err != nil {
		t.Fatalf("create ping: %v", err)
	}
	p, err := f.pings.UpdateStatus(ctx, res.Ping.ID, seller, models.PingAccepted, nil)
	if err != nil {
		t.Fatalf("accept ping: %v", err)
	}
	return p
}

func (f *fixture) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	c, err := f.store.Conversations().Find(context.Background(), listingID, buyer, seller)
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	return c
}

func triple() store.Triple {
	return store.Triple{ListingID: listingID, Sender: buyer, Receiver: seller}
}

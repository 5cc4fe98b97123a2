package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"nexus.app/ingest/core/config"
	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/provider"
	"nexus.app/ingest/internal/store"
)

type fakeGraph struct {
	nextID      int
	createErr   error
	renewErr    error
	reauthErr   error
	created     []provider.GraphSubscription
	renewed     []string
	reauthed    []string
	deleted     []string
	lastExpires time.Time
}

func (f *fakeGraph) CreateSubscription(_ context.Context, resource string, changeTypes []string, notificationURL string, expiresAt time.Time) (*provider.GraphSubscription, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	sub := provider.GraphSubscription{
		ID:                 fmt.Sprintf("sub-%d", f.nextID),
		Resource:           resource,
		NotificationURL:    notificationURL,
		ExpirationDateTime: expiresAt,
	}
	f.created = append(f.created, sub)
	return &sub, nil
}

func (f *fakeGraph) RenewSubscription(_ context.Context, id string, expiresAt time.Time) error {
	if f.renewErr != nil {
		return f.renewErr
	}
	f.renewed = append(f.renewed, id)
	f.lastExpires = expiresAt
	return nil
}

func (f *fakeGraph) ReauthorizeSubscription(_ context.Context, id string) error {
	if f.reauthErr != nil {
		return f.reauthErr
	}
	f.reauthed = append(f.reauthed, id)
	return nil
}

func (f *fakeGraph) DeleteSubscription(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type memSubStore struct {
	subs map[string]*model.Subscription
}

func newMemSubStore() *memSubStore {
	return &memSubStore{subs: map[string]*model.Subscription{}}
}

func (s *memSubStore) Create(_ context.Context, sub *model.Subscription) error {
	copied := *sub
	s.subs[sub.ID] = &copied
	return nil
}

func (s *memSubStore) GetByID(_ context.Context, id string) (*model.Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (s *memSubStore) List(_ context.Context) ([]model.Subscription, error) {
	var out []model.Subscription
	for _, sub := range s.subs {
		out = append(out, *sub)
	}
	return out, nil
}

func (s *memSubStore) UpdateExpiry(_ context.Context, id string, expiresAt time.Time) error {
	sub, ok := s.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	sub.ExpiresAt = expiresAt
	return nil
}

func (s *memSubStore) Delete(_ context.Context, id string) error {
	delete(s.subs, id)
	return nil
}

var testCfg = config.SubscriptionConfig{
	NotificationURL: "https://ingest.example.com/webhook/atlas/graph/mail",
	RenewalMargin:   5 * 24 * time.Hour,
	SweepInterval:   6 * time.Hour,
}

func newTestManager() (*Manager, *fakeGraph, *memSubStore) {
	graph := &fakeGraph{}
	subs := newMemSubStore()
	mgr := NewManager(graph, subs, testCfg)
	return mgr, graph, subs
}

func TestCreateRecordsProviderSubscription(t *testing.T) {
	mgr, graph, subs := newTestManager()
	ctx := context.Background()

	sub, err := mgr.Create(ctx, "Users/u1/Messages", []string{"created"}, "atlas", "mail")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.ID != "sub-1" {
		t.Fatalf("id = %s, want sub-1", sub.ID)
	}
	if len(graph.created) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(graph.created))
	}
	if graph.created[0].NotificationURL != testCfg.NotificationURL {
		t.Fatalf("notification url = %s", graph.created[0].NotificationURL)
	}

	stored, err := subs.GetByID(ctx, "sub-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Resource != "Users/u1/Messages" || stored.Kind != "mail" || stored.AgentName != "atlas" {
		t.Fatalf("stored metadata mismatch: %+v", stored)
	}
}

func TestRenewMovesExpiryForward(t *testing.T) {
	mgr, graph, subs := newTestManager()
	ctx := context.Background()

	sub, err := mgr.Create(ctx, "Users/u1/Messages", []string{"created"}, "atlas", "mail")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := sub.ExpiresAt

	// Pin the clock two days later so the renewed expiry visibly advances.
	mgr.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	if err := mgr.Renew(ctx, sub.ID); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if len(graph.renewed) != 1 {
		t.Fatalf("renew calls = %d, want 1", len(graph.renewed))
	}

	renewed, err := subs.GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !renewed.ExpiresAt.After(before) {
		t.Fatalf("expiry did not advance: %v -> %v", before, renewed.ExpiresAt)
	}
	if !renewed.ExpiresAt.Equal(graph.lastExpires) {
		t.Fatalf("stored expiry %v != provider expiry %v", renewed.ExpiresAt, graph.lastExpires)
	}
}

func TestRenewFailureRecreatesFromMetadata(t *testing.T) {
	mgr, graph, subs := newTestManager()
	ctx := context.Background()

	sub, err := mgr.Create(ctx, "Users/u1/Events", []string{"created", "updated"}, "atlas", "calendar")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	graph.renewErr = errors.New("410 subscription expired")
	if err := mgr.Renew(ctx, sub.ID); err != nil {
		t.Fatalf("Renew: %v", err)
	}

	if _, err := subs.GetByID(ctx, sub.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stale row should be gone, got err=%v", err)
	}
	replacement, err := subs.GetByID(ctx, "sub-2")
	if err != nil {
		t.Fatalf("replacement row missing: %v", err)
	}
	if replacement.Resource != sub.Resource || replacement.Kind != sub.Kind {
		t.Fatalf("replacement metadata mismatch: %+v", replacement)
	}
	if len(graph.deleted) != 1 || graph.deleted[0] != sub.ID {
		t.Fatalf("old provider subscription not removed: %v", graph.deleted)
	}
}

func TestRenewUnknownSubscriptionNeedsBootstrap(t *testing.T) {
	mgr, _, _ := newTestManager()

	err := mgr.Renew(context.Background(), "ghost")
	if !errors.Is(err, ErrManualBootstrap) {
		t.Fatalf("err = %v, want ErrManualBootstrap", err)
	}
}

func TestHandleLifecycleRouting(t *testing.T) {
	mgr, graph, subs := newTestManager()
	ctx := context.Background()

	sub, err := mgr.Create(ctx, "Users/u1/Messages", []string{"created"}, "atlas", "mail")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := mgr.HandleLifecycle(ctx, model.LifecycleSignal{
		SubscriptionID: sub.ID,
		Event:          model.LifecycleReauthorizationRequired,
	}); err != nil {
		t.Fatalf("HandleLifecycle(reauth): %v", err)
	}
	if len(graph.reauthed) != 1 || graph.reauthed[0] != sub.ID {
		t.Fatalf("reauthorize not called: %v", graph.reauthed)
	}

	if err := mgr.HandleLifecycle(ctx, model.LifecycleSignal{
		SubscriptionID: sub.ID,
		Event:          model.LifecycleSubscriptionRemoved,
	}); err != nil {
		t.Fatalf("HandleLifecycle(removed): %v", err)
	}
	if _, err := subs.GetByID(ctx, "sub-2"); err != nil {
		t.Fatalf("removed subscription not recreated: %v", err)
	}

	// Missed and unknown events are acknowledged without action.
	for _, event := range []model.LifecycleEvent{model.LifecycleMissed, "somethingElse"} {
		if err := mgr.HandleLifecycle(ctx, model.LifecycleSignal{
			SubscriptionID: sub.ID,
			Event:          event,
		}); err != nil {
			t.Fatalf("HandleLifecycle(%s): %v", event, err)
		}
	}
}

func TestReauthorizeFailureLogsOnly(t *testing.T) {
	mgr, graph, _ := newTestManager()
	graph.reauthErr = errors.New("403")

	err := mgr.HandleLifecycle(context.Background(), model.LifecycleSignal{
		SubscriptionID: "sub-x",
		Event:          model.LifecycleReauthorizationRequired,
	})
	if err != nil {
		t.Fatalf("reauthorization failure must not surface: %v", err)
	}
}

func TestSweepRenewsOnlyExpiring(t *testing.T) {
	mgr, graph, subs := newTestManager()
	ctx := context.Background()

	now := time.Now()
	mgr.now = func() time.Time { return now }

	expiring := &model.Subscription{ID: "sub-old", Resource: "Users/u1/Messages", ChangeTypes: []string{"created"}, AgentName: "atlas", Kind: "mail", ExpiresAt: now.Add(24 * time.Hour)}
	fresh := &model.Subscription{ID: "sub-new", Resource: "Users/u1/Events", ChangeTypes: []string{"created"}, AgentName: "atlas", Kind: "calendar", ExpiresAt: now.Add(6 * 24 * time.Hour)}
	for _, sub := range []*model.Subscription{expiring, fresh} {
		if err := subs.Create(ctx, sub); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if err := mgr.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(graph.renewed) != 1 || graph.renewed[0] != "sub-old" {
		t.Fatalf("renewed = %v, want [sub-old]", graph.renewed)
	}
}

func TestEnsureBootstrapCreatesConfiguredSubscriptions(t *testing.T) {
	graph := &fakeGraph{}
	subs := newMemSubStore()
	cfg := testCfg
	cfg.Bootstrap = []config.BootstrapSpec{
		{AgentName: "atlas", Kind: "mail", Resource: "users/me/messages"},
		{AgentName: "atlas", Kind: "calendar", Resource: "users/me/events"},
	}
	mgr := NewManager(graph, subs, cfg)
	ctx := context.Background()

	if err := mgr.EnsureBootstrap(ctx); err != nil {
		t.Fatalf("EnsureBootstrap: %v", err)
	}
	if len(graph.created) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(graph.created))
	}

	listed, err := subs.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("tracked rows = %d, want 2", len(listed))
	}
	for _, sub := range listed {
		want := []string{"created"}
		if sub.Kind == "calendar" {
			want = []string{"created", "updated"}
		}
		if len(sub.ChangeTypes) != len(want) {
			t.Fatalf("%s change types = %v, want %v", sub.Kind, sub.ChangeTypes, want)
		}
	}

	// Repeated passes must not duplicate tracked subscriptions.
	if err := mgr.EnsureBootstrap(ctx); err != nil {
		t.Fatalf("second EnsureBootstrap: %v", err)
	}
	if len(graph.created) != 2 {
		t.Fatalf("rerun provider calls = %d, want 2", len(graph.created))
	}
}

func TestEnsureBootstrapRetriesFailedEntries(t *testing.T) {
	graph := &fakeGraph{createErr: errors.New("throttled")}
	subs := newMemSubStore()
	cfg := testCfg
	cfg.Bootstrap = []config.BootstrapSpec{
		{AgentName: "atlas", Kind: "mail", Resource: "users/me/messages"},
	}
	mgr := NewManager(graph, subs, cfg)
	ctx := context.Background()

	if err := mgr.EnsureBootstrap(ctx); err == nil {
		t.Fatal("expected error while provider is failing")
	}

	graph.createErr = nil
	if err := mgr.EnsureBootstrap(ctx); err != nil {
		t.Fatalf("EnsureBootstrap after recovery: %v", err)
	}
	if _, err := subs.GetByID(ctx, "sub-1"); err != nil {
		t.Fatalf("subscription not created after recovery: %v", err)
	}
}

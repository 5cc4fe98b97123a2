// Package subscription manages the lifecycle of provider push
// subscriptions: creation, proactive renewal, recreation after loss and
// reauthorization on provider demand.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nexus.app/ingest/common/logger"
	"nexus.app/ingest/core/config"
	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/provider"
	"nexus.app/ingest/internal/store"
)

// ErrManualBootstrap is returned when a subscription must be recreated but
// its resource and routing metadata are no longer on record.
var ErrManualBootstrap = errors.New("subscription metadata lost, manual re-bootstrap required")

// maxSubscriptionWindow is the provider's hard cap on mail/calendar
// subscription lifetimes.
const maxSubscriptionWindow = 7 * 24 * time.Hour

// GraphAPI is the slice of the provider client the manager needs.
type GraphAPI interface {
	CreateSubscription(ctx context.Context, resource string, changeTypes []string, notificationURL string, expiresAt time.Time) (*provider.GraphSubscription, error)
	RenewSubscription(ctx context.Context, id string, expiresAt time.Time) error
	ReauthorizeSubscription(ctx context.Context, id string) error
	DeleteSubscription(ctx context.Context, id string) error
}

type Manager struct {
	graph         GraphAPI
	subscriptions store.SubscriptionStore
	cfg           config.SubscriptionConfig
	now           func() time.Time
}

func NewManager(graph GraphAPI, subscriptions store.SubscriptionStore, cfg config.SubscriptionConfig) *Manager {
	return &Manager{
		graph:         graph,
		subscriptions: subscriptions,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Create registers a subscription at the provider and records it locally.
// The initial expiry is the provider's maximum window.
func (m *Manager) Create(ctx context.Context, resource string, changeTypes []string, agentName, kind string) (*model.Subscription, error) {
	ctx = m.logCtx(ctx, "")

	expiresAt := m.now().Add(maxSubscriptionWindow)
	created, err := m.graph.CreateSubscription(ctx, resource, changeTypes, m.cfg.NotificationURL, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("creating provider subscription: %w", err)
	}

	sub := &model.Subscription{
		ID:          created.ID,
		Resource:    resource,
		ChangeTypes: changeTypes,
		AgentName:   agentName,
		Kind:        kind,
		ExpiresAt:   created.ExpirationDateTime,
	}
	if err := m.subscriptions.Create(ctx, sub); err != nil {
		// The provider-side subscription exists but has no local record.
		// Delete it so notifications never arrive for an untracked id.
		if delErr := m.graph.DeleteSubscription(ctx, created.ID); delErr != nil {
			slog.WarnContext(ctx, "orphaned provider subscription could not be removed",
				"subscription_id", created.ID, "error", delErr)
		}
		return nil, fmt.Errorf("recording subscription: %w", err)
	}

	slog.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"resource", sub.Resource,
		"kind", sub.Kind,
		"expires_at", sub.ExpiresAt)
	return sub, nil
}

// Renew extends a subscription to the provider's maximum window. When the
// provider rejects the renewal the subscription is recreated from the
// stored metadata instead.
func (m *Manager) Renew(ctx context.Context, id string) error {
	ctx = m.logCtx(ctx, id)

	sub, err := m.subscriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("subscription %s: %w", id, ErrManualBootstrap)
		}
		return fmt.Errorf("loading subscription %s: %w", id, err)
	}

	expiresAt := m.now().Add(maxSubscriptionWindow)
	if err := m.graph.RenewSubscription(ctx, id, expiresAt); err != nil {
		slog.WarnContext(ctx, "renewal rejected, recreating subscription",
			"subscription_id", id, "error", err)
		return m.recreate(ctx, sub)
	}

	if err := m.subscriptions.UpdateExpiry(ctx, id, expiresAt); err != nil {
		return fmt.Errorf("recording renewed expiry for %s: %w", id, err)
	}
	slog.InfoContext(ctx, "subscription renewed",
		"subscription_id", id, "expires_at", expiresAt)
	return nil
}

// Recreate replaces a subscription the provider has dropped. The stored
// record supplies the resource and routing metadata; without it the caller
// gets ErrManualBootstrap.
func (m *Manager) Recreate(ctx context.Context, id string) error {
	ctx = m.logCtx(ctx, id)

	sub, err := m.subscriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("subscription %s: %w", id, ErrManualBootstrap)
		}
		return fmt.Errorf("loading subscription %s: %w", id, err)
	}
	return m.recreate(ctx, sub)
}

func (m *Manager) recreate(ctx context.Context, old *model.Subscription) error {
	replacement, err := m.Create(ctx, old.Resource, old.ChangeTypes, old.AgentName, old.Kind)
	if err != nil {
		return fmt.Errorf("recreating subscription %s: %w", old.ID, err)
	}

	// Best effort on both the old provider-side object and the stale row;
	// the replacement is already live either way.
	if err := m.graph.DeleteSubscription(ctx, old.ID); err != nil {
		slog.WarnContext(ctx, "stale provider subscription not removed",
			"subscription_id", old.ID, "error", err)
	}
	if err := m.subscriptions.Delete(ctx, old.ID); err != nil {
		slog.WarnContext(ctx, "stale subscription row not removed",
			"subscription_id", old.ID, "error", err)
	}

	slog.InfoContext(ctx, "subscription recreated",
		"subscription_id", old.ID,
		"replacement_id", replacement.ID)
	return nil
}

// Reauthorize re-validates a subscription after the provider demanded it.
// Failure is logged, not returned: the provider retries the lifecycle
// notification on its own schedule.
func (m *Manager) Reauthorize(ctx context.Context, id string) {
	ctx = m.logCtx(ctx, id)

	if err := m.graph.ReauthorizeSubscription(ctx, id); err != nil {
		slog.ErrorContext(ctx, "subscription reauthorization failed",
			"subscription_id", id, "error", err)
		return
	}
	slog.InfoContext(ctx, "subscription reauthorized", "subscription_id", id)
}

// Delete removes a subscription both at the provider and locally.
func (m *Manager) Delete(ctx context.Context, id string) error {
	ctx = m.logCtx(ctx, id)

	if err := m.graph.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	if err := m.subscriptions.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("removing subscription row %s: %w", id, err)
	}
	return nil
}

// List returns all tracked subscriptions.
func (m *Manager) List(ctx context.Context) ([]model.Subscription, error) {
	return m.subscriptions.List(ctx)
}

// HandleLifecycle routes a provider lifecycle signal to the matching
// recovery action.
func (m *Manager) HandleLifecycle(ctx context.Context, sig model.LifecycleSignal) error {
	ctx = m.logCtx(ctx, sig.SubscriptionID)

	switch sig.Event {
	case model.LifecycleReauthorizationRequired:
		m.Reauthorize(ctx, sig.SubscriptionID)
		return nil
	case model.LifecycleSubscriptionRemoved:
		return m.Recreate(ctx, sig.SubscriptionID)
	case model.LifecycleMissed:
		// Notifications were dropped provider-side. There is no replay
		// API for the affected window, so the gap is only recorded.
		slog.WarnContext(ctx, "provider reported missed notifications",
			"subscription_id", sig.SubscriptionID)
		return nil
	default:
		slog.WarnContext(ctx, "unknown lifecycle event ignored",
			"subscription_id", sig.SubscriptionID,
			"event", string(sig.Event))
		return nil
	}
}

// EnsureBootstrap creates every configured subscription that has no
// tracked row yet. It is safe to run repeatedly; entries that fail are
// picked up again on the next pass.
func (m *Manager) EnsureBootstrap(ctx context.Context) error {
	if len(m.cfg.Bootstrap) == 0 {
		return nil
	}
	ctx = m.logCtx(ctx, "")

	subs, err := m.subscriptions.List(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	tracked := make(map[string]bool, len(subs))
	for _, sub := range subs {
		tracked[sub.AgentName+"\x00"+sub.Resource] = true
	}

	var failed int
	for _, spec := range m.cfg.Bootstrap {
		if tracked[spec.AgentName+"\x00"+spec.Resource] {
			continue
		}
		sub, err := m.Create(ctx, spec.Resource, changeTypesFor(spec.Kind), spec.AgentName, spec.Kind)
		if err != nil {
			failed++
			slog.ErrorContext(ctx, "bootstrap create failed",
				"resource", spec.Resource, "agent_name", spec.AgentName, "error", err)
			continue
		}
		slog.InfoContext(ctx, "subscription bootstrapped",
			"subscription_id", sub.ID, "resource", spec.Resource, "agent_name", spec.AgentName)
	}

	if failed > 0 {
		return fmt.Errorf("bootstrap: %d of %d subscriptions failed", failed, len(m.cfg.Bootstrap))
	}
	return nil
}

// changeTypesFor maps a subscription kind to the change types watched on
// its resource. Calendar entries mutate after creation, mail does not.
func changeTypesFor(kind string) []string {
	if kind == "calendar" {
		return []string{"created", "updated"}
	}
	return []string{"created"}
}

// Sweep renews every subscription expiring within the renewal margin.
// Subscriptions are processed sequentially; one failure does not stop the
// rest.
func (m *Manager) Sweep(ctx context.Context) error {
	ctx = m.logCtx(ctx, "")

	subs, err := m.subscriptions.List(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	horizon := m.now().Add(m.cfg.RenewalMargin)
	var failed int
	for _, sub := range subs {
		if sub.ExpiresAt.After(horizon) {
			continue
		}
		if err := m.Renew(ctx, sub.ID); err != nil {
			failed++
			slog.ErrorContext(ctx, "sweep renewal failed",
				"subscription_id", sub.ID, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("sweep: %d of %d renewals failed", failed, len(subs))
	}
	return nil
}

// RunSweeper runs a bootstrap pass followed by Sweep on the configured
// interval until the context is cancelled. The first pass runs
// immediately, so the configured subscriptions exist as soon as the
// worker starts.
func (m *Manager) RunSweeper(ctx context.Context) {
	m.bootstrapAndSweep(ctx)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "subscription sweeper stopped")
			return
		case <-ticker.C:
			m.bootstrapAndSweep(ctx)
		}
	}
}

func (m *Manager) bootstrapAndSweep(ctx context.Context) {
	if err := m.EnsureBootstrap(ctx); err != nil {
		slog.ErrorContext(ctx, "subscription bootstrap failed", "error", err)
	}
	if err := m.Sweep(ctx); err != nil {
		slog.ErrorContext(ctx, "subscription sweep failed", "error", err)
	}
}

func (m *Manager) logCtx(ctx context.Context, subscriptionID string) context.Context {
	fields := logger.LogFields{Component: "ingest.subscription"}
	if subscriptionID != "" {
		fields.SubscriptionID = logger.Ptr(subscriptionID)
	}
	return logger.WithLogFields(ctx, fields)
}

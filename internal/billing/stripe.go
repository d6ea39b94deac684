package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/database"
	"github.com/altrii/altrii/internal/models"
	apperrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/logger"
	"github.com/altrii/altrii/pkg/metrics"
)

// Webhook event types that change a user's plan status.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// StripeConfig configures webhook verification and subscription synchronisation.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// Prices maps provider price ids to internal plan identifiers.
	Prices  map[string]string
	Timeout time.Duration
}

// SubscriptionLister fetches a customer's subscriptions, newest first.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
}

// SyncOption customises a StripeSync.
type SyncOption func(*StripeSync)

// WithSubscriptionLister replaces the API-backed lister, primarily for tests.
func WithSubscriptionLister(lister SubscriptionLister) SyncOption {
	return func(s *StripeSync) {
		if lister != nil {
			s.subs = lister
		}
	}
}

// StripeSync persists plan status transitions reported by the payment provider.
type StripeSync struct {
	db            *gorm.DB
	subs          SubscriptionLister
	webhookSecret string
	prices        map[string]string
	timeout       time.Duration
	log           *zap.Logger
}

// NewStripeSync constructs a StripeSync. A secret key is required unless a lister is injected.
func NewStripeSync(db *gorm.DB, cfg StripeConfig, opts ...SyncOption) (*StripeSync, error) {
	if db == nil {
		return nil, errors.New("stripe sync: db is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	prices := make(map[string]string, len(cfg.Prices))
	for priceID, plan := range cfg.Prices {
		priceID = strings.TrimSpace(priceID)
		if priceID != "" {
			prices[priceID] = strings.ToUpper(strings.TrimSpace(plan))
		}
	}

	s := &StripeSync{
		db:            db,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		prices:        prices,
		timeout:       timeout,
		log:           logger.WithModule("billing"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.subs == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe sync: secret key is required")
		}
		s.subs = &apiLister{api: client.New(key, nil)}
	}
	return s, nil
}

// HandleWebhook verifies and applies a webhook delivery. It reports whether the event changed
// state; redeliveries of an already processed event are acknowledged without effect.
func (s *StripeSync) HandleWebhook(ctx context.Context, payload []byte, signature string) (bool, error) {
	if s.webhookSecret == "" {
		return false, apperrors.NewBadRequest("webhook secret is not configured")
	}
	if strings.TrimSpace(signature) == "" {
		return false, apperrors.NewBadRequest("missing webhook signature")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.BillingEvents.WithLabelValues("unknown", "invalid").Inc()
		return false, apperrors.NewBadRequest("invalid webhook payload").WithInternal(err)
	}

	eventType := string(event.Type)
	applied, err := s.apply(ctx, event)
	switch {
	case err != nil:
		metrics.BillingEvents.WithLabelValues(eventType, "error").Inc()
		s.log.Warn("billing event failed", zap.String("event_id", event.ID), zap.String("type", eventType), zap.Error(err))
		return false, err
	case applied:
		metrics.BillingEvents.WithLabelValues(eventType, "applied").Inc()
	default:
		metrics.BillingEvents.WithLabelValues(eventType, "ignored").Inc()
	}
	return applied, nil
}

func (s *StripeSync) apply(ctx context.Context, event stripe.Event) (bool, error) {
	if event.Data == nil {
		return false, nil
	}

	var (
		customerID string
		updates    map[string]any
		linkUserID string
	)

	switch string(event.Type) {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return false, apperrors.NewBadRequest("malformed checkout session").WithInternal(err)
		}
		if session.Customer != nil {
			customerID = session.Customer.ID
		}
		linkUserID = strings.TrimSpace(session.ClientReferenceID)
		updates = map[string]any{"plan_status": models.PlanStatusActive}
		if session.Subscription != nil {
			updates["stripe_subscription_id"] = session.Subscription.ID
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return false, apperrors.NewBadRequest("malformed subscription").WithInternal(err)
		}
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
		updates = map[string]any{
			"stripe_subscription_id": sub.ID,
			"plan_status":            string(sub.Status),
		}
		if plan := s.planFor(&sub); plan != "" {
			updates["plan"] = plan
		}
	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return false, apperrors.NewBadRequest("malformed subscription").WithInternal(err)
		}
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
		updates = map[string]any{"plan_status": models.PlanStatusCanceled}
	default:
		return false, nil
	}

	if customerID == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ensureContext(ctx), s.timeout)
	defer cancel()

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.BillingEvent{ID: event.ID, Type: string(event.Type), CustomerID: customerID}
		if err := tx.Create(&record).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return errAlreadyProcessed
			}
			return err
		}

		if linkUserID != "" {
			if err := tx.Model(&models.User{}).
				Where("id = ? AND stripe_customer_id IS NULL", linkUserID).
				Update("stripe_customer_id", customerID).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&models.User{}).Where("stripe_customer_id = ?", customerID).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		applied = result.RowsAffected > 0
		return nil
	})
	if errors.Is(err, errAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, database.Unavailable("store", err)
	}

	if applied {
		s.log.Info("plan status updated",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.String("customer_id", customerID),
			zap.Any("changes", updates),
		)
	}
	return applied, nil
}

var errAlreadyProcessed = errors.New("billing event already processed")

// Refresh pulls the latest subscription for the user and persists the derived plan and
// status. Users without a customer id are marked inactive.
func (s *StripeSync) Refresh(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, database.Unavailable("store", err)
	}

	plan, status := user.Plan, models.PlanStatusInactive
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		var subs []*stripe.Subscription
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			var listErr error
			subs, listErr = s.subs.ListSubscriptions(ctx, *user.StripeCustomerID)
			return listErr
		})
		if err != nil {
			if database.IsTimeout(err) {
				return nil, database.Unavailable("billing", err)
			}
			return nil, apperrors.ErrUpstreamUnavailable.WithInternal(err)
		}

		if preferred := preferredSubscription(subs); preferred != nil {
			if p := s.planFor(preferred); p != "" {
				plan = p
			}
			if preferred.Status == stripe.SubscriptionStatusActive || preferred.Status == stripe.SubscriptionStatusTrialing {
				status = models.PlanStatusActive
			}
		}
	}
	if plan == "" {
		plan = models.PlanMonth
	}

	previous := user.PlanStatus
	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&user).Updates(map[string]any{"plan": plan, "plan_status": status}).Error
	}); err != nil {
		return nil, database.Unavailable("store", err)
	}
	user.Plan, user.PlanStatus = plan, status

	if previous != status {
		s.log.Info("plan status updated",
			zap.String("user_id", user.ID),
			zap.String("from", previous),
			zap.String("to", status),
		)
	}
	return &user, nil
}

// ResyncAll refreshes every user linked to a customer. Failures are logged and counted;
// the first error is returned after all users were attempted.
func (s *StripeSync) ResyncAll(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)

	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("stripe_customer_id IS NOT NULL AND stripe_customer_id <> ''").
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return 0, database.Unavailable("store", err)
	}

	var (
		synced   int
		firstErr error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if _, err := s.Refresh(ctx, id); err != nil {
			s.log.Warn("billing resync failed", zap.String("user_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		synced++
	}
	return synced, firstErr
}

func (s *StripeSync) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

func (s *StripeSync) planFor(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return s.prices[item.Price.ID]
}

// preferredSubscription picks an active or trialing subscription, falling back to the most
// recently created one.
func preferredSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var candidates []*stripe.Subscription
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing {
			return sub
		}
		candidates = append(candidates, sub)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Created > candidates[j].Created
	})
	return candidates[0]
}

type apiLister struct {
	api *client.API
}

func (l *apiLister) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)
	params.AddExpand("data.items.data.price")

	var out []*stripe.Subscription
	iter := l.api.Subscriptions.List(params)
	for iter.Next() {
		out = append(out, iter.Subscription())
		if len(out) >= 10 {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe: list subscriptions: %w", err)
	}
	return out, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

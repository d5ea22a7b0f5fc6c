package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/eternisai/content-planner-proxy/internal/docstore"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/webhook"
)

const (
	premiumSource = "stripe"

	// userIDMetadataKey carries the Firebase uid through the checkout session.
	userIDMetadataKey = "firebase_user_id"
)

var (
	// ErrNotConfigured is returned when no premium price is configured.
	ErrNotConfigured = errors.New("stripe premium price is not configured")

	// ErrInvalidSignature is returned when the Stripe-Signature header does not verify.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

// Recorder receives webhook and activation events. May be nil.
type Recorder interface {
	WebhookEvent(provider, status string)
	PremiumActivated(source string)
}

// Service handles the Stripe premium upgrade: a one-off Checkout payment and the webhook
// that activates premium once Stripe reports the session completed.
type Service struct {
	store         docstore.Store
	recorder      Recorder
	priceID       string
	webhookSecret string
	now           func() time.Time
	logger        *logger.Logger
}

// NewService creates a new Stripe service instance and configures the Stripe SDK.
// It sets the global Stripe API key from cfg.
func NewService(cfg *config.Config, store docstore.Store, recorder Recorder, logger *logger.Logger) *Service {
	log := logger.WithComponent("stripe_service")

	apiKey := cfg.StripeSecretKey
	if apiKey == "" {
		log.Warn("Stripe secret key is empty - checkout will fail")
	} else if len(apiKey) < 20 {
		log.Warn("Stripe secret key appears invalid (too short)", "length", len(apiKey))
	} else {
		// Log key prefix only ("sk_test_xxxx..." or "sk_live_xxxx...")
		log.Info("Stripe API key configured", "key_prefix", apiKey[:12]+"...", "key_length", len(apiKey))
	}

	stripe.Key = apiKey
	return &Service{
		store:         store,
		recorder:      recorder,
		priceID:       cfg.StripePremiumPriceID,
		webhookSecret: cfg.StripeWebhookSecret,
		now:           time.Now,
		logger:        log,
	}
}

// CreateCheckoutSession generates a Stripe Checkout Session URL for the premium upgrade.
// The session:
// - is a one-off payment of the configured premium price
// - carries the Firebase user ID as client reference and in metadata for the webhook
// - redirects back to origin on success or cancel
// - prefills the customer email when known
//
// Returns the Checkout Session URL for redirecting the user.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email, origin string) (string, error) {
	if s.priceID == "" {
		return "", ErrNotConfigured
	}

	params := s.checkoutParams(userID, email, origin)
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.logger.WithContext(ctx).Info("checkout session created",
		"session_id", sess.ID,
		"origin", origin)

	return sess.URL, nil
}

// checkoutParams builds the session parameters. email prefills the Checkout form when the
// token carried one.
func (s *Service) checkoutParams(userID, email, origin string) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(origin + "/?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(origin + "/?canceled=true"),
		Metadata: map[string]string{
			userIDMetadataKey: userID,
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	return params
}

// HandleWebhook verifies and processes a Stripe webhook event.
//
// Supported webhook events:
//   - checkout.session.completed: grants premium once the session is paid
//
// Other event types are acknowledged and ignored. Signature failures wrap ErrInvalidSignature.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		s.record("invalid_signature")
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log := s.logger.WithContext(ctx)
	log.Info("webhook event received", "type", event.Type, "event_id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	default:
		log.Info("unhandled webhook event type", "type", event.Type)
		s.record("ignored")
	}

	return nil
}

// handleCheckoutCompleted grants premium when a checkout session is completed and paid.
// The uid comes from the session's client reference, falling back to its metadata.
func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	log := s.logger.WithContext(ctx)

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.Info("checkout completed without payment", "session_id", sess.ID, "payment_status", sess.PaymentStatus)
		s.record(string(sess.PaymentStatus))
		return nil
	}

	userID := sess.ClientReferenceID
	if userID == "" {
		userID = sess.Metadata[userIDMetadataKey]
	}
	if userID == "" {
		s.record("missing_user")
		return fmt.Errorf("missing %s in checkout session %s", userIDMetadataKey, sess.ID)
	}

	if err := s.store.MarkPremium(ctx, userID, s.now(), premiumSource); err != nil {
		s.record("store_error")
		return fmt.Errorf("failed to mark user premium: %w", err)
	}

	log.Info("premium access granted",
		"user_id", userID,
		"session_id", sess.ID,
		"provider", premiumSource)

	s.record("paid")
	if s.recorder != nil {
		s.recorder.PremiumActivated(premiumSource)
	}

	return nil
}

func (s *Service) record(status string) {
	if s.recorder != nil {
		s.recorder.WebhookEvent(premiumSource, status)
	}
}

package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/salon-booking/internal/observability/metrics"
	"github.com/wolfman30/salon-booking/pkg/logging"
)

const (
	eventIntentSucceeded         = "payment_intent.succeeded"
	eventIntentCapturableUpdated = "payment_intent.amount_capturable_updated"
	eventIntentPaymentFailed     = "payment_intent.payment_failed"

	stripeProvider            = "stripe"
	signatureToleranceSeconds = 300
	maxWebhookPayloadBytes    = 1 << 20
)

// IntentEventSink reacts to verified PaymentIntent events.
type IntentEventSink interface {
	// IntentConfirmed finalizes the booking behind a confirmed intent. It
	// returns nil for intents that do not belong to a booking attempt.
	IntentConfirmed(ctx context.Context, intentID string) error
	// IntentFailed records a failed payment against its booking attempt.
	IntentFailed(ctx context.Context, intentID, reason string) error
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// StripeWebhookHandler handles Stripe PaymentIntent webhook events.
type StripeWebhookHandler struct {
	webhookSecret string
	sink          IntentEventSink
	processed     processedTracker
	logger        *logging.Logger
	metrics       *metrics.BookingMetrics
	now           func() time.Time
}

// NewStripeWebhookHandler creates a new handler for Stripe webhooks. An empty
// secret disables signature checks and is only accepted outside production.
func NewStripeWebhookHandler(webhookSecret string, sink IntentEventSink, processed processedTracker, logger *logging.Logger) *StripeWebhookHandler {
	if sink == nil {
		panic("payments: intent event sink required")
	}
	if processed == nil {
		panic("payments: processed tracker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{
		webhookSecret: webhookSecret,
		sink:          sink,
		processed:     processed,
		logger:        logger,
		now:           time.Now,
	}
}

// WithMetrics counts processed webhook events.
func (h *StripeWebhookHandler) WithMetrics(m *metrics.BookingMetrics) *StripeWebhookHandler {
	h.metrics = m
	return h
}

// Handle processes incoming Stripe webhook events.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookPayloadBytes))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifyStripeSignature(h.webhookSecret, payload, sigHeader, h.now()) {
		h.logger.Warn("stripe webhook signature rejected")
		h.metrics.ObserveWebhookEvent("unknown", "rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	switch evt.Type {
	case eventIntentSucceeded, eventIntentCapturableUpdated, eventIntentPaymentFailed:
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	if processed, err := h.processed.AlreadyProcessed(ctx, stripeProvider, evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if processed {
		h.metrics.ObserveWebhookEvent(evt.Type, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	intent := evt.Data.Object
	if intent.ID == "" {
		h.logger.Warn("stripe webhook missing payment intent id", "event_id", evt.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if evt.Type == eventIntentPaymentFailed {
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Message != "" {
			reason = intent.LastPaymentError.Message
		}
		err = h.sink.IntentFailed(ctx, intent.ID, reason)
	} else {
		err = h.sink.IntentConfirmed(ctx, intent.ID)
	}
	if err != nil {
		h.logger.Error("stripe webhook processing failed", "error", err, "event_id", evt.ID, "event_type", evt.Type, "payment_intent_id", intent.ID)
		h.metrics.ObserveWebhookEvent(evt.Type, "error")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.processed.MarkProcessed(ctx, stripeProvider, evt.ID); err != nil {
		h.logger.Error("failed to record processed event", "error", err)
	}

	h.metrics.ObserveWebhookEvent(evt.Type, "processed")
	h.logger.Info("stripe webhook processed", "event_id", evt.ID, "event_type", evt.Type, "payment_intent_id", intent.ID)
	w.WriteHeader(http.StatusOK)
}

// stripeWebhookEvent represents a Stripe webhook event envelope.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeIntentObject `json:"object"`
	} `json:"data"`
}

// stripeIntentObject is the payment_intent object from the webhook.
type stripeIntentObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"last_payment_error"`
}

// verifyStripeSignature verifies a Stripe webhook signature.
// Stripe signs with HMAC-SHA256 and sends the signature in the Stripe-Signature header
// as: t=<timestamp>,v1=<signature>[,v0=<test_signature>]
func verifyStripeSignature(secret string, payload []byte, header string, now time.Time) bool {
	if secret == "" {
		return true
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(now.Unix()-ts) > signatureToleranceSeconds {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

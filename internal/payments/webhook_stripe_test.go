package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

const testWebhookSecret = "whsec_test123"

type stubIntentSink struct {
	confirmed []string
	failed    map[string]string
	err       error
}

func (s *stubIntentSink) IntentConfirmed(_ context.Context, intentID string) error {
	s.confirmed = append(s.confirmed, intentID)
	return s.err
}

func (s *stubIntentSink) IntentFailed(_ context.Context, intentID, reason string) error {
	if s.failed == nil {
		s.failed = map[string]string{}
	}
	s.failed[intentID] = reason
	return s.err
}

type stubProcessedTracker struct {
	seen      map[string]bool
	lookupErr error
}

func (s *stubProcessedTracker) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	return s.seen[provider+":"+eventID], nil
}

func (s *stubProcessedTracker) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	key := provider + ":" + eventID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func buildStripePayload(t *testing.T, eventID, eventType, intentID string, amount int64, extra map[string]any) []byte {
	t.Helper()
	object := map[string]any{
		"id":       intentID,
		"status":   "succeeded",
		"amount":   amount,
		"currency": "gbp",
		"metadata": map[string]string{"attempt_id": "attempt-1"},
	}
	for k, v := range extra {
		object[k] = v
	}
	evt := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal stripe event: %v", err)
	}
	return data
}

func stripeSign(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%s,v1=%s", ts, sig)
}

func postWebhook(h *StripeWebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "https://salon.example/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestStripeWebhookHandler_FinalizesSucceededIntent(t *testing.T) {
	sink := &stubIntentSink{}
	processed := &stubProcessedTracker{}
	handler := NewStripeWebhookHandler(testWebhookSecret, sink, processed, logging.Default())

	body := buildStripePayload(t, "evt_1", "payment_intent.succeeded", "pi_123", 4000, nil)
	rec := postWebhook(handler, body, stripeSign(body, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pi_123"}, sink.confirmed)
	assert.True(t, processed.seen["stripe:evt_1"])

	// Redelivery of the same event is acknowledged without finalizing again.
	rec = postWebhook(handler, body, stripeSign(body, testWebhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sink.confirmed, 1)
}

func TestStripeWebhookHandler_CapturableUpdatedFinalizes(t *testing.T) {
	sink := &stubIntentSink{}
	handler := NewStripeWebhookHandler(testWebhookSecret, sink, &stubProcessedTracker{}, nil)

	body := buildStripePayload(t, "evt_2", "payment_intent.amount_capturable_updated", "pi_hold", 4000, map[string]any{"status": "requires_capture"})
	rec := postWebhook(handler, body, stripeSign(body, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pi_hold"}, sink.confirmed)
}

func TestStripeWebhookHandler_PaymentFailedRecordsReason(t *testing.T) {
	sink := &stubIntentSink{}
	handler := NewStripeWebhookHandler(testWebhookSecret, sink, &stubProcessedTracker{}, nil)

	body := buildStripePayload(t, "evt_3", "payment_intent.payment_failed", "pi_bad", 4000, map[string]any{
		"status":             "requires_payment_method",
		"last_payment_error": map[string]any{"message": "Your card was declined.", "code": "card_declined"},
	})
	rec := postWebhook(handler, body, stripeSign(body, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sink.confirmed)
	assert.Equal(t, "Your card was declined.", sink.failed["pi_bad"])
}

func TestStripeWebhookHandler_IgnoresOtherEvents(t *testing.T) {
	sink := &stubIntentSink{}
	processed := &stubProcessedTracker{}
	handler := NewStripeWebhookHandler(testWebhookSecret, sink, processed, nil)

	body := buildStripePayload(t, "evt_4", "charge.refunded", "pi_123", 4000, nil)
	rec := postWebhook(handler, body, stripeSign(body, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sink.confirmed)
	assert.Empty(t, processed.seen)
}

func TestStripeWebhookHandler_RejectsBadSignatures(t *testing.T) {
	sink := &stubIntentSink{}
	handler := NewStripeWebhookHandler(testWebhookSecret, sink, &stubProcessedTracker{}, nil)
	body := buildStripePayload(t, "evt_5", "payment_intent.succeeded", "pi_123", 4000, nil)

	cases := map[string]string{
		"missing":      "",
		"wrong secret": stripeSign(body, "whsec_other", time.Now()),
		"stale":        stripeSign(body, testWebhookSecret, time.Now().Add(-10*time.Minute)),
		"malformed":    "v1=abc",
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			rec := postWebhook(handler, body, sig)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
	assert.Empty(t, sink.confirmed)
}

func TestStripeWebhookHandler_SinkFailureIsRetried(t *testing.T) {
	sink := &stubIntentSink{err: errors.New("stripe unavailable")}
	processed := &stubProcessedTracker{}
	handler := NewStripeWebhookHandler(testWebhookSecret, sink, processed, nil)

	body := buildStripePayload(t, "evt_6", "payment_intent.succeeded", "pi_123", 4000, nil)
	rec := postWebhook(handler, body, stripeSign(body, testWebhookSecret, time.Now()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, processed.seen["stripe:evt_6"], "failed events must stay eligible for redelivery")
}

func TestStripeWebhookHandler_ProcessedLookupFailure(t *testing.T) {
	handler := NewStripeWebhookHandler(testWebhookSecret, &stubIntentSink{}, &stubProcessedTracker{lookupErr: errors.New("db down")}, nil)

	body := buildStripePayload(t, "evt_7", "payment_intent.succeeded", "pi_123", 4000, nil)
	rec := postWebhook(handler, body, stripeSign(body, testWebhookSecret, time.Now()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripeWebhookHandler_MissingEventID(t *testing.T) {
	handler := NewStripeWebhookHandler("", &stubIntentSink{}, &stubProcessedTracker{}, nil)

	rec := postWebhook(handler, []byte(`{"type":"payment_intent.succeeded"}`), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

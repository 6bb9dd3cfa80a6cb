package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

var stripeTracer = otel.Tracer("salon.internal.payments.stripe")

const (
	IntentSucceeded       = "succeeded"
	IntentRequiresCapture = "requires_capture"
	IntentRequiresPayment = "requires_payment_method"
	IntentProcessing      = "processing"
	IntentCanceled        = "canceled"

	defaultStripeAPIVersion = "2024-12-18.acacia"
	maxMetadataValueLength  = 500
)

// StripeConfig configures the PaymentIntents client.
type StripeConfig struct {
	SecretKey     string
	BaseURL       string
	Currency      string
	CaptureMethod string
	Timeout       time.Duration
	DryRun        bool
}

// AuthorizationParams describes a payment authorization for one booking attempt.
type AuthorizationParams struct {
	AttemptID     string
	AmountMinor   int64
	Currency      string
	ServiceIDs    []string
	ServiceNames  string
	CustomerEmail string
	PaymentChoice string
	Description   string
}

// Authorization is the processor's handle on a created PaymentIntent.
type Authorization struct {
	IntentID     string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       string
}

// Intent is the subset of a Stripe PaymentIntent the booking flow verifies.
type Intent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	AmountCapturable int64             `json:"amount_capturable"`
	Currency         string            `json:"currency"`
	CaptureMethod    string            `json:"capture_method"`
	ClientSecret     string            `json:"client_secret"`
	Metadata         map[string]string `json:"metadata"`
}

// Confirmed reports whether the customer has completed payment, either
// captured or held for manual capture.
func (i *Intent) Confirmed() bool {
	return i.Status == IntentSucceeded || i.Status == IntentRequiresCapture
}

// StripeIntentService creates and verifies Stripe PaymentIntents.
type StripeIntentService struct {
	secretKey     string
	baseURL       string
	apiVersion    string
	currency      string
	captureMethod string
	httpClient    *http.Client
	logger        *logging.Logger
	dryRun        bool

	dryRunMu      sync.Mutex
	dryRunIntents map[string]Intent
}

// NewStripeIntentService creates a new PaymentIntents client.
func NewStripeIntentService(cfg StripeConfig, logger *logging.Logger) *StripeIntentService {
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "gbp"
	}
	captureMethod := cfg.CaptureMethod
	if captureMethod != "manual" {
		captureMethod = "automatic"
	}
	s := &StripeIntentService{
		secretKey:     cfg.SecretKey,
		baseURL:       "https://api.stripe.com",
		apiVersion:    defaultStripeAPIVersion,
		currency:      currency,
		captureMethod: captureMethod,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
		dryRun:        cfg.DryRun,
		dryRunIntents: make(map[string]Intent),
	}
	return s.WithBaseURL(cfg.BaseURL)
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeIntentService) WithBaseURL(baseURL string) *StripeIntentService {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// Currency returns the ISO currency code used for new authorizations.
func (s *StripeIntentService) Currency() string {
	return s.currency
}

// ManualCapture reports whether intents are held for capture after commit.
func (s *StripeIntentService) ManualCapture() bool {
	return s.captureMethod == "manual"
}

// CreateAuthorization creates a PaymentIntent for exactly params.AmountMinor.
// The attempt id doubles as the idempotency key so a retried request never
// creates a second intent.
func (s *StripeIntentService) CreateAuthorization(ctx context.Context, params AuthorizationParams) (*Authorization, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_payment_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.attempt_id", params.AttemptID),
		attribute.Int64("salon.amount_minor", params.AmountMinor),
	)

	if params.AmountMinor <= 0 {
		return nil, &ProcessorError{Code: "amount_too_small", Message: "amount must be positive"}
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = s.currency
	}

	if s.dryRun {
		return s.dryRunAuthorization(params, currency), nil
	}

	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", params.AmountMinor))
	form.Set("currency", currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("capture_method", s.captureMethod)
	if desc := strings.TrimSpace(params.Description); desc != "" {
		form.Set("description", desc)
	}
	if email := strings.TrimSpace(params.CustomerEmail); email != "" {
		form.Set("receipt_email", email)
	}
	form.Set("metadata[attempt_id]", params.AttemptID)
	form.Set("metadata[service_ids]", truncateMetadata(strings.Join(params.ServiceIDs, ",")))
	form.Set("metadata[service_names]", truncateMetadata(params.ServiceNames))
	form.Set("metadata[customer_email]", params.CustomerEmail)
	form.Set("metadata[payment_choice]", params.PaymentChoice)

	var intent Intent
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, "booking-attempt-"+params.AttemptID, &intent); err != nil {
		span.RecordError(err)
		s.logger.Warn("stripe payment intent creation failed", "error", err, "attempt_id", params.AttemptID)
		return nil, err
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, &ProcessorError{Code: "invalid_response", Message: "stripe response missing intent id or client secret"}
	}
	span.SetAttributes(attribute.String("salon.payment_intent_id", intent.ID))

	return &Authorization{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.Amount,
		Currency:     intent.Currency,
		Status:       intent.Status,
	}, nil
}

// RetrieveIntent fetches the current state of a PaymentIntent.
func (s *StripeIntentService) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.retrieve_payment_intent")
	defer span.End()
	span.SetAttributes(attribute.String("salon.payment_intent_id", intentID))

	if s.dryRun {
		return s.dryRunRetrieve(intentID)
	}

	var intent Intent
	if err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, "", &intent); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &intent, nil
}

// CaptureIntent captures a held PaymentIntent in full.
func (s *StripeIntentService) CaptureIntent(ctx context.Context, intentID string) (*Intent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.capture_payment_intent")
	defer span.End()
	span.SetAttributes(attribute.String("salon.payment_intent_id", intentID))

	if s.dryRun {
		intent, err := s.dryRunRetrieve(intentID)
		if err != nil {
			return nil, err
		}
		intent.Status = IntentSucceeded
		intent.AmountReceived = intent.Amount
		return intent, nil
	}

	var intent Intent
	path := "/v1/payment_intents/" + url.PathEscape(intentID) + "/capture"
	if err := s.do(ctx, http.MethodPost, path, url.Values{}, "capture-"+intentID, &intent); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &intent, nil
}

func (s *StripeIntentService) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", s.apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &ProcessorError{Code: "network_error", Message: "stripe request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return readStripeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProcessorError{Code: "invalid_response", Message: "stripe decode failed", Err: err}
	}
	return nil
}

// stripeErrorResponse represents a Stripe API error.
type stripeErrorResponse struct {
	Error struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

func readStripeError(resp *http.Response) *ProcessorError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	pe := &ProcessorError{Status: resp.StatusCode}
	var parsed stripeErrorResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		pe.Code = parsed.Error.Code
		if pe.Code == "" {
			pe.Code = parsed.Error.Type
		}
		pe.DeclineCode = parsed.Error.DeclineCode
		pe.Message = parsed.Error.Message
		return pe
	}
	pe.Message = strings.TrimSpace(string(data))
	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode)
	}
	return pe
}

func truncateMetadata(v string) string {
	if len(v) <= maxMetadataValueLength {
		return v
	}
	return v[:maxMetadataValueLength]
}

func (s *StripeIntentService) dryRunAuthorization(params AuthorizationParams, currency string) *Authorization {
	fakeID := "pi_dryrun_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	s.logger.Info("stripe dry run: skipping payment intent creation",
		"attempt_id", params.AttemptID, "amount_minor", params.AmountMinor)

	status := IntentSucceeded
	if s.ManualCapture() {
		status = IntentRequiresCapture
	}
	s.dryRunMu.Lock()
	s.dryRunIntents[fakeID] = Intent{
		ID:            fakeID,
		Status:        status,
		Amount:        params.AmountMinor,
		Currency:      currency,
		CaptureMethod: s.captureMethod,
		Metadata: map[string]string{
			"attempt_id":     params.AttemptID,
			"customer_email": params.CustomerEmail,
		},
	}
	s.dryRunMu.Unlock()

	return &Authorization{
		IntentID:     fakeID,
		ClientSecret: fakeID + "_secret_dryrun",
		AmountMinor:  params.AmountMinor,
		Currency:     currency,
		Status:       IntentRequiresPayment,
	}
}

func (s *StripeIntentService) dryRunRetrieve(intentID string) (*Intent, error) {
	s.dryRunMu.Lock()
	defer s.dryRunMu.Unlock()
	intent, ok := s.dryRunIntents[intentID]
	if !ok {
		return nil, &ProcessorError{Status: http.StatusNotFound, Code: "resource_missing", Message: "No such payment_intent: '" + intentID + "'"}
	}
	return &intent, nil
}

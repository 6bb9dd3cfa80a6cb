package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-booking/internal/bookings"
	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/customers"
	"github.com/wolfman30/salon-booking/internal/payments"
)

type harness struct {
	svc       *Service
	catalog   *memCatalog
	processor *fakeProcessor
	attempts  *memAttempts
	bookings  *memBookings
	incidents *recordingIncidents
	alerts    *recordingAlerts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		catalog:   newMemCatalog(),
		processor: newFakeProcessor(),
		attempts:  newMemAttempts(),
		incidents: &recordingIncidents{},
		alerts:    &recordingAlerts{},
	}
	h.bookings = newMemBookings(h.attempts)
	h.svc = NewService(Deps{
		Pricer:    catalog.NewPricer(h.catalog, nil),
		Processor: h.processor,
		Attempts:  h.attempts,
		Bookings:  h.bookings,
		Incidents: h.incidents,
		Alerts:    h.alerts,
	})
	h.svc.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	return h
}

func validRequest() StartRequest {
	return StartRequest{
		ServiceIDs: []string{svcCut, svcColour},
		IsDeposit:  true,
		Customer:   customers.Details{FullName: "Jane Doe", Email: " Jane@Salon.Example "},
		Date:       "2026-11-02",
		Time:       "10:30 AM",
	}
}

func TestStartCheckout_DepositOnTwoServices(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.StartCheckout(context.Background(), validRequest())
	require.NoError(t, err)

	assert.EqualValues(t, 8000, res.TotalMinor)
	assert.EqualValues(t, 4000, res.AmountDueMinor)
	assert.Equal(t, catalog.ChoiceDeposit, res.Choice)
	assert.Equal(t, "gbp", res.Currency)
	assert.NotEmpty(t, res.ClientSecret)

	require.Len(t, h.processor.created, 1)
	params := h.processor.created[0]
	assert.EqualValues(t, 4000, params.AmountMinor)
	assert.Equal(t, "Cut, Colour", params.ServiceNames)
	assert.Equal(t, "jane@salon.example", params.CustomerEmail)
	assert.Equal(t, res.AttemptID, params.AttemptID)

	attempt, err := h.attempts.Get(context.Background(), res.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, attempt.Status)
	assert.Equal(t, res.PaymentIntentID, attempt.PaymentIntentID)
	assert.Equal(t, "10:30", attempt.StartTime)
	assert.Equal(t, 135, attempt.DurationMinutes)
}

func TestStartCheckout_FullPayment(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.IsDeposit = false

	res, err := h.svc.StartCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 8000, res.AmountDueMinor)
	assert.Equal(t, catalog.ChoiceFull, res.Choice)
}

func TestStartCheckout_RejectsBeforeProcessor(t *testing.T) {
	cases := map[string]func(*StartRequest){
		"empty ids":       func(r *StartRequest) { r.ServiceIDs = nil },
		"bad id":          func(r *StartRequest) { r.ServiceIDs = []string{"cut"} },
		"missing email":   func(r *StartRequest) { r.Customer.Email = "" },
		"invalid email":   func(r *StartRequest) { r.Customer.Email = "not-an-email" },
		"bad date":        func(r *StartRequest) { r.Date = "02/11/2026" },
		"past slot":       func(r *StartRequest) { r.Date = "2026-10-01" },
		"group too small": func(r *StartRequest) { r.IsGroup = true; r.GroupSize = 1 },
		"group too large": func(r *StartRequest) { r.IsGroup = true; r.GroupSize = 21 },
		"bad attempt id":  func(r *StartRequest) { r.AttemptID = "attempt-1" },
		"past midnight":   func(r *StartRequest) { r.ServiceIDs = []string{svcLong}; r.Time = "16:00" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			req := validRequest()
			mutate(&req)

			_, err := h.svc.StartCheckout(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Empty(t, h.processor.created)
		})
	}
}

func TestStartCheckout_UnknownService(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.ServiceIDs = []string{svcCut, "6b1d2f5e-9999-4c3a-9b1e-000000000009"}

	_, err := h.svc.StartCheckout(context.Background(), req)
	var notFound *catalog.ServiceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"6b1d2f5e-9999-4c3a-9b1e-000000000009"}, notFound.IDs)
	assert.Empty(t, h.processor.created)
}

func TestStartCheckout_CatalogUnavailable(t *testing.T) {
	h := newHarness(t)
	h.catalog.err = errDB

	_, err := h.svc.StartCheckout(context.Background(), validRequest())
	var unavailable *catalog.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Empty(t, h.processor.created)
}

func TestStartCheckout_VelocityExceeded(t *testing.T) {
	h := newHarness(t)
	h.svc.velocity = fixedVelocity{err: payments.ErrVelocityExceeded}

	_, err := h.svc.StartCheckout(context.Background(), validRequest())
	assert.ErrorIs(t, err, payments.ErrVelocityExceeded)
	assert.Empty(t, h.processor.created)
}

func TestStartCheckout_DeclineLeavesNoBooking(t *testing.T) {
	h := newHarness(t)
	h.processor.createErr = &payments.ProcessorError{Status: 402, Code: "card_declined", Message: "Your card was declined."}

	req := validRequest()
	req.AttemptID = "0d6f8a52-7a62-4a43-8f7b-6a0c3b2d1e10"
	_, err := h.svc.StartCheckout(context.Background(), req)

	var pe *payments.ProcessorError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusFailed, h.attempts.status(req.AttemptID))
	assert.Zero(t, h.bookings.count())
}

func TestStartCheckout_RetryWithSameAttempt(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.AttemptID = "0d6f8a52-7a62-4a43-8f7b-6a0c3b2d1e10"

	first, err := h.svc.StartCheckout(context.Background(), req)
	require.NoError(t, err)
	second, err := h.svc.StartCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.PaymentIntentID, second.PaymentIntentID)

	req.IsDeposit = false
	_, err = h.svc.StartCheckout(context.Background(), req)
	assert.ErrorIs(t, err, ErrAttemptConflict)
}

func TestStartCheckout_RetryProcessorErrorKeepsIntentLive(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.AttemptID = "0d6f8a52-7a62-4a43-8f7b-6a0c3b2d1e10"

	first, err := h.svc.StartCheckout(context.Background(), req)
	require.NoError(t, err)

	h.processor.createErr = &payments.ProcessorError{Code: "network_error", Message: "timeout"}
	_, err = h.svc.StartCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, StatusPaymentPending, h.attempts.status(req.AttemptID))

	h.processor.confirm(first.PaymentIntentID, payments.IntentSucceeded)
	appt, err := h.svc.Finalize(context.Background(), first.PaymentIntentID, SourceClient)
	require.NoError(t, err)
	assert.Equal(t, first.PaymentIntentID, appt.PaymentIntentID)
	require.NoError(t, h.svc.IntentConfirmed(context.Background(), first.PaymentIntentID))
	assert.Equal(t, 1, h.bookings.count())
	assert.Empty(t, h.incidents.incidents)
}

func TestStartCheckout_ZeroTotalRejected(t *testing.T) {
	const svcFree = "6b1d2f5e-4444-4c3a-9b1e-000000000004"
	h := newHarness(t)
	h.catalog.services[svcFree] = catalog.Service{ID: svcFree, Name: "Consultation", DurationMinutes: 15}
	req := validRequest()
	req.ServiceIDs = []string{svcFree}

	_, err := h.svc.StartCheckout(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, h.processor.created)
}

func startAndConfirm(t *testing.T, h *harness) *StartResult {
	t.Helper()
	res, err := h.svc.StartCheckout(context.Background(), validRequest())
	require.NoError(t, err)
	h.processor.confirm(res.PaymentIntentID, payments.IntentSucceeded)
	return res
}

func TestFinalize_CommitsOnce(t *testing.T) {
	h := newHarness(t)
	res := startAndConfirm(t, h)

	appt, err := h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceClient)
	require.NoError(t, err)
	assert.False(t, appt.AlreadyCommitted)
	assert.EqualValues(t, 8000, appt.TotalMinor)
	assert.EqualValues(t, 4000, appt.DepositMinor)
	assert.Equal(t, bookings.PaymentStatusPartiallyPaid, appt.PaymentStatus)
	assert.Len(t, appt.Services, 2)
	assert.Equal(t, StatusCommitted, h.attempts.status(res.AttemptID))

	again, err := h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceWebhook)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCommitted)
	assert.Equal(t, appt.ID, again.ID)
	assert.Equal(t, 1, h.bookings.count())
}

func TestFinalize_ConcurrentPathsCommitOnce(t *testing.T) {
	h := newHarness(t)
	res := startAndConfirm(t, h)

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i, source := range []string{SourceClient, SourceWebhook} {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			appt, err := h.svc.Finalize(context.Background(), res.PaymentIntentID, source)
			errs[i] = err
			if appt != nil {
				ids[i] = appt.ID
			}
		}(i, source)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, 1, h.bookings.count())
}

func TestFinalize_NotConfirmed(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.StartCheckout(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceClient)
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
	assert.Zero(t, h.bookings.count())
	assert.Equal(t, StatusPaymentPending, h.attempts.status(res.AttemptID))
}

func TestFinalize_UnknownIntent(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Finalize(context.Background(), "pi_unknown", SourceClient)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestFinalize_CommitFailureRaisesIncident(t *testing.T) {
	h := newHarness(t)
	res := startAndConfirm(t, h)
	h.bookings.commitErr = errors.New("bookings: link services: boom")

	_, err := h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceClient)

	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, res.PaymentIntentID, ce.PaymentIntentID)
	assert.EqualValues(t, 4000, ce.AmountDueMinor)
	assert.Equal(t, "commit", ce.Stage)
	assert.Equal(t, StatusNeedsRepair, h.attempts.status(res.AttemptID))

	require.Len(t, h.incidents.incidents, 1)
	assert.Equal(t, res.PaymentIntentID, h.incidents.incidents[0].PaymentIntentID)
	require.Len(t, h.alerts.alerts, 1)
	assert.Equal(t, "inc-1", h.alerts.alerts[0].IncidentID)

	_, err = h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceWebhook)
	assert.ErrorIs(t, err, ErrNeedsRepair)
	assert.Len(t, h.incidents.incidents, 1)
}

func TestFinalize_AmountMismatchIsIncident(t *testing.T) {
	h := newHarness(t)
	res := startAndConfirm(t, h)
	h.processor.mu.Lock()
	h.processor.intents[res.PaymentIntentID].Amount = 100
	h.processor.mu.Unlock()

	_, err := h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceClient)
	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "verify", ce.Stage)
	assert.Zero(t, h.bookings.count())
}

func TestFinalize_ConfirmedPaymentOnFailedAttemptIsIncident(t *testing.T) {
	h := newHarness(t)
	res := startAndConfirm(t, h)
	h.attempts.mu.Lock()
	h.attempts.byID[res.AttemptID].Status = StatusFailed
	h.attempts.mu.Unlock()

	_, err := h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceClient)
	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "verify", ce.Stage)
	assert.Equal(t, StatusNeedsRepair, h.attempts.status(res.AttemptID))
	require.Len(t, h.incidents.incidents, 1)
	require.Len(t, h.alerts.alerts, 1)

	require.NoError(t, h.svc.IntentConfirmed(context.Background(), res.PaymentIntentID))
	assert.Len(t, h.incidents.incidents, 1)
}

func TestFinalize_FailedAttemptWithoutConfirmedPayment(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.StartCheckout(context.Background(), validRequest())
	require.NoError(t, err)
	h.attempts.mu.Lock()
	h.attempts.byID[res.AttemptID].Status = StatusFailed
	h.attempts.mu.Unlock()

	_, err = h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceClient)
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
	assert.Equal(t, StatusFailed, h.attempts.status(res.AttemptID))
	assert.Empty(t, h.incidents.incidents)
}

func TestFinalize_CallerCancelledAfterConfirmation(t *testing.T) {
	h := newHarness(t)
	res := startAndConfirm(t, h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.processor.onRetrieve = cancel

	appt, err := h.svc.Finalize(ctx, res.PaymentIntentID, SourceClient)
	require.NoError(t, err)
	assert.False(t, appt.AlreadyCommitted)
	assert.Equal(t, StatusCommitted, h.attempts.status(res.AttemptID))
	assert.Empty(t, h.incidents.incidents)
	assert.Empty(t, h.alerts.alerts)
}

func TestFinalize_ManualCaptureAfterCommit(t *testing.T) {
	h := newHarness(t)
	h.processor.manual = true
	res, err := h.svc.StartCheckout(context.Background(), validRequest())
	require.NoError(t, err)
	h.processor.confirm(res.PaymentIntentID, payments.IntentRequiresCapture)

	_, err = h.svc.Finalize(context.Background(), res.PaymentIntentID, SourceClient)
	require.NoError(t, err)
	assert.Equal(t, []string{res.PaymentIntentID}, h.processor.captured)
}

func TestIntentConfirmed_AcksUnknownAndFailedCommits(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.IntentConfirmed(context.Background(), "pi_not_ours"))

	res := startAndConfirm(t, h)
	h.bookings.commitErr = errDB
	require.NoError(t, h.svc.IntentConfirmed(context.Background(), res.PaymentIntentID))
	assert.Equal(t, StatusNeedsRepair, h.attempts.status(res.AttemptID))
}

func TestIntentConfirmed_RetriesProcessorErrors(t *testing.T) {
	h := newHarness(t)
	res := startAndConfirm(t, h)
	h.processor.retrieveErr = &payments.ProcessorError{Code: "network_error", Message: "timeout"}

	require.Error(t, h.svc.IntentConfirmed(context.Background(), res.PaymentIntentID))
}

func TestIntentFailed_KeepsAttemptOpen(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.StartCheckout(context.Background(), validRequest())
	require.NoError(t, err)

	require.NoError(t, h.svc.IntentFailed(context.Background(), res.PaymentIntentID, "card_declined"))
	attempt, err := h.attempts.Get(context.Background(), res.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, attempt.Status)
	assert.Equal(t, "card_declined", attempt.FailureReason)

	require.NoError(t, h.svc.IntentFailed(context.Background(), "pi_not_ours", "x"))
}

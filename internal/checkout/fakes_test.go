package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfman30/salon-booking/internal/bookings"
	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/notify"
	"github.com/wolfman30/salon-booking/internal/payments"
	"github.com/wolfman30/salon-booking/internal/reconcile"
)

const (
	svcCut    = "6b1d2f5e-1111-4c3a-9b1e-000000000001"
	svcColour = "6b1d2f5e-2222-4c3a-9b1e-000000000002"
	svcLong   = "6b1d2f5e-3333-4c3a-9b1e-000000000003"
)

type memCatalog struct {
	services map[string]catalog.Service
	err      error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{services: map[string]catalog.Service{
		svcCut:    {ID: svcCut, Name: "Cut", DurationMinutes: 45, PriceMinor: 5000},
		svcColour: {ID: svcColour, Name: "Colour", DurationMinutes: 90, PriceMinor: 3000},
		svcLong:   {ID: svcLong, Name: "Full Day Treatment", DurationMinutes: 600, PriceMinor: 25000},
	}}
}

func (m *memCatalog) ServicesByIDs(_ context.Context, ids []string) ([]catalog.Service, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Service
	for _, id := range ids {
		if svc, ok := m.services[id]; ok {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (m *memCatalog) ListCategories(context.Context) ([]catalog.Category, error) { return nil, nil }

func (m *memCatalog) ListServices(context.Context, string) ([]catalog.Service, error) {
	return nil, nil
}

type fakeProcessor struct {
	mu          sync.Mutex
	created     []payments.AuthorizationParams
	createErr   error
	intents     map[string]*payments.Intent
	retrieveErr error
	captured    []string
	captureErr  error
	manual      bool
	onRetrieve  func()
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{intents: map[string]*payments.Intent{}}
}

func (f *fakeProcessor) CreateAuthorization(_ context.Context, p payments.AuthorizationParams) (*payments.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	if f.createErr != nil {
		return nil, f.createErr
	}
	id := "pi_" + p.AttemptID
	f.intents[id] = &payments.Intent{
		ID:       id,
		Status:   "requires_payment_method",
		Amount:   p.AmountMinor,
		Currency: p.Currency,
		Metadata: map[string]string{"attempt_id": p.AttemptID},
	}
	return &payments.Authorization{IntentID: id, ClientSecret: id + "_secret", AmountMinor: p.AmountMinor, Currency: p.Currency}, nil
}

func (f *fakeProcessor) RetrieveIntent(_ context.Context, id string) (*payments.Intent, error) {
	if f.onRetrieve != nil {
		f.onRetrieve()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	intent, ok := f.intents[id]
	if !ok {
		return nil, &payments.ProcessorError{Status: 404, Code: "resource_missing", Message: "No such payment_intent"}
	}
	cp := *intent
	return &cp, nil
}

func (f *fakeProcessor) CaptureIntent(_ context.Context, id string) (*payments.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, id)
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &payments.Intent{ID: id, Status: payments.IntentSucceeded}, nil
}

func (f *fakeProcessor) Currency() string    { return "gbp" }
func (f *fakeProcessor) ManualCapture() bool { return f.manual }

func (f *fakeProcessor) confirm(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = status
}

type memAttempts struct {
	mu        sync.Mutex
	byID      map[string]*Attempt
	createErr error
}

func newMemAttempts() *memAttempts {
	return &memAttempts{byID: map[string]*Attempt{}}
}

func (m *memAttempts) Create(_ context.Context, a *Attempt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return false, m.createErr
	}
	if _, ok := m.byID[a.ID]; ok {
		return false, nil
	}
	cp := *a
	cp.Status = StatusPriced
	m.byID[a.ID] = &cp
	a.Status = StatusPriced
	return true, nil
}

func (m *memAttempts) Get(_ context.Context, id string) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAttempts) GetByPaymentIntent(_ context.Context, intentID string) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.PaymentIntentID == intentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAttemptNotFound
}

func (m *memAttempts) move(id string, to string, from ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return errStaleTransition
	}
	for _, f := range from {
		if a.Status == f {
			a.Status = to
			return nil
		}
	}
	return errStaleTransition
}

func (m *memAttempts) SetPaymentPending(_ context.Context, id, intentID string) error {
	if err := m.move(id, StatusPaymentPending, StatusPriced, StatusPaymentPending); err != nil {
		return err
	}
	m.mu.Lock()
	m.byID[id].PaymentIntentID = intentID
	m.mu.Unlock()
	return nil
}

func (m *memAttempts) MarkAuthorized(_ context.Context, id string) error {
	return m.move(id, StatusAuthorized, StatusPaymentPending, StatusAuthorized)
}

func (m *memAttempts) MarkFailed(_ context.Context, id, reason string) error {
	if err := m.move(id, StatusFailed, StatusPriced); err != nil {
		return err
	}
	m.mu.Lock()
	m.byID[id].FailureReason = reason
	m.mu.Unlock()
	return nil
}

func (m *memAttempts) MarkNeedsRepair(_ context.Context, id, reason string) error {
	if err := m.move(id, StatusNeedsRepair, StatusPaymentPending, StatusAuthorized, StatusFailed); err != nil {
		return err
	}
	m.mu.Lock()
	m.byID[id].FailureReason = reason
	m.mu.Unlock()
	return nil
}

func (m *memAttempts) RecordPaymentFailure(_ context.Context, intentID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.PaymentIntentID == intentID && a.Status == StatusPaymentPending {
			a.FailureReason = reason
			return nil
		}
	}
	return ErrAttemptNotFound
}

func (m *memAttempts) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

// memBookings commits into memory and moves the attempt like the real
// transaction does.
type memBookings struct {
	mu        sync.Mutex
	attempts  *memAttempts
	byIntent  map[string]*bookings.Appointment
	commitErr error
	commits   []bookings.CommitParams
}

func newMemBookings(attempts *memAttempts) *memBookings {
	return &memBookings{attempts: attempts, byIntent: map[string]*bookings.Appointment{}}
}

func (m *memBookings) Commit(ctx context.Context, p bookings.CommitParams) (*bookings.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, p)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bookings: begin commit: %w", err)
	}
	if m.commitErr != nil {
		return nil, m.commitErr
	}
	if existing, ok := m.byIntent[p.PaymentIntentID]; ok {
		cp := *existing
		cp.AlreadyCommitted = true
		return &cp, nil
	}
	if err := m.attempts.move(p.AttemptID, StatusCommitted, StatusAuthorized); err != nil {
		return nil, bookings.ErrAttemptNotAuthorized
	}
	appt := &bookings.Appointment{
		ID:              "appt-" + p.AttemptID,
		CustomerEmail:   p.Customer.Email,
		Date:            p.Date,
		StartTime:       p.StartTime,
		TotalMinor:      p.TotalMinor,
		DepositMinor:    p.AmountDueMinor,
		PaymentChoice:   string(p.Choice),
		PaymentStatus:   p.PaymentStatus(),
		PaymentIntentID: p.PaymentIntentID,
	}
	for _, id := range p.ServiceIDs {
		appt.Services = append(appt.Services, bookings.ServiceLine{ID: id})
	}
	m.byIntent[p.PaymentIntentID] = appt
	cp := *appt
	return &cp, nil
}

func (m *memBookings) GetByPaymentIntent(_ context.Context, id string) (*bookings.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.byIntent[id]
	if !ok {
		return nil, bookings.ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (m *memBookings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byIntent)
}

type recordingIncidents struct {
	mu        sync.Mutex
	incidents []reconcile.Incident
}

func (r *recordingIncidents) Record(_ context.Context, inc reconcile.Incident) (reconcile.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc.ID = "inc-1"
	r.incidents = append(r.incidents, inc)
	return inc, nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []notify.OperatorAlert
}

func (r *recordingAlerts) AlertOperator(_ context.Context, a notify.OperatorAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

type fixedVelocity struct{ err error }

func (f fixedVelocity) Allow(context.Context, string) error { return f.err }

var errDB = errors.New("connection reset")

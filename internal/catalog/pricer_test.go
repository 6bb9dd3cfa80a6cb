package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

const (
	svcCut    = "6f1c2a43-5b1e-4c59-9d7a-0d3d1e0c8a01"
	svcColour = "6f1c2a43-5b1e-4c59-9d7a-0d3d1e0c8a02"
	svcBlow   = "6f1c2a43-5b1e-4c59-9d7a-0d3d1e0c8a03"
)

type stubRepo struct {
	services []Service
	err      error
	gotIDs   []string
	calls    int
}

func (s *stubRepo) ServicesByIDs(_ context.Context, ids []string) ([]Service, error) {
	s.calls++
	s.gotIDs = ids
	if s.err != nil {
		return nil, s.err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Service
	for _, svc := range s.services {
		if want[svc.ID] {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (s *stubRepo) ListCategories(context.Context) ([]Category, error) { return nil, s.err }

func (s *stubRepo) ListServices(context.Context, string) ([]Service, error) {
	return s.services, s.err
}

func salonRepo() *stubRepo {
	return &stubRepo{services: []Service{
		{ID: svcCut, Name: "Cut", DurationMinutes: 45, PriceMinor: 5000},
		{ID: svcColour, Name: "Colour", DurationMinutes: 90, PriceMinor: 3000},
		{ID: svcBlow, Name: "Blow dry", DurationMinutes: 30, PriceMinor: 1999},
	}}
}

func TestQuote_DepositForTwoServices(t *testing.T) {
	pricer := NewPricer(salonRepo(), logging.Default())

	quote, err := pricer.Quote(context.Background(), []string{svcCut, svcColour}, ChoiceDeposit)
	require.NoError(t, err)

	assert.EqualValues(t, 8000, quote.TotalMinor)
	assert.EqualValues(t, 4000, quote.AmountDueMinor)
	assert.Equal(t, 135, quote.DurationMinutes)
	assert.Equal(t, []string{svcCut, svcColour}, quote.ServiceIDs())
	assert.Equal(t, "Cut, Colour", quote.ServiceNames())
}

func TestQuote_FullPaymentChargesTotal(t *testing.T) {
	pricer := NewPricer(salonRepo(), nil)

	quote, err := pricer.Quote(context.Background(), []string{svcBlow}, ChoiceFull)
	require.NoError(t, err)
	assert.EqualValues(t, 1999, quote.TotalMinor)
	assert.EqualValues(t, 1999, quote.AmountDueMinor)
}

func TestQuote_DuplicateIDsPricedOnce(t *testing.T) {
	repo := salonRepo()
	pricer := NewPricer(repo, nil)

	quote, err := pricer.Quote(context.Background(), []string{svcCut, " " + svcCut + " ", svcColour}, ChoiceFull)
	require.NoError(t, err)
	assert.EqualValues(t, 8000, quote.TotalMinor)
	assert.Equal(t, []string{svcCut, svcColour}, repo.gotIDs)
}

func TestQuote_UnknownServiceIsRejected(t *testing.T) {
	const missing = "00000000-0000-4000-8000-000000000099"
	pricer := NewPricer(salonRepo(), nil)

	_, err := pricer.Quote(context.Background(), []string{svcCut, missing}, ChoiceDeposit)

	var notFound *ServiceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{missing}, notFound.IDs)
}

func TestQuote_EmptyAndInvalidIDs(t *testing.T) {
	repo := salonRepo()
	pricer := NewPricer(repo, nil)

	_, err := pricer.Quote(context.Background(), nil, ChoiceDeposit)
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = pricer.Quote(context.Background(), []string{"not-a-uuid"}, ChoiceDeposit)
	assert.ErrorIs(t, err, ErrInvalidServiceID)

	_, err = pricer.Quote(context.Background(), []string{""}, ChoiceDeposit)
	assert.ErrorIs(t, err, ErrInvalidServiceID)

	assert.Zero(t, repo.calls, "invalid input must not reach the store")
}

func TestQuote_StoreFailureNeverDefaultsToZero(t *testing.T) {
	cause := errors.New("connection refused")
	pricer := NewPricer(&stubRepo{err: cause}, nil)

	quote, err := pricer.Quote(context.Background(), []string{svcCut}, ChoiceFull)

	assert.Nil(t, quote)
	var unavailable *StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, cause)
}

func TestAmountDue_RoundsHalfUp(t *testing.T) {
	cases := []struct {
		total  int64
		choice PaymentChoice
		want   int64
	}{
		{8000, ChoiceDeposit, 4000},
		{1999, ChoiceDeposit, 1000},
		{1, ChoiceDeposit, 1},
		{0, ChoiceDeposit, 0},
		{1999, ChoiceFull, 1999},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AmountDue(tc.total, tc.choice), "total=%d choice=%s", tc.total, tc.choice)
	}
}

func TestFormatMajor(t *testing.T) {
	assert.Equal(t, "40.00", FormatMajor(4000))
	assert.Equal(t, "19.99", FormatMajor(1999))
	assert.Equal(t, "0.05", FormatMajor(5))
}

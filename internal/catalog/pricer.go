package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

var catalogTracer = otel.Tracer("salon.internal.catalog")

// Pricer computes authoritative totals from the live price list. Client
// supplied prices are never consulted.
type Pricer struct {
	repo   Repository
	logger *logging.Logger
}

// NewPricer constructs a Pricer.
func NewPricer(repo Repository, logger *logging.Logger) *Pricer {
	if repo == nil {
		panic("catalog: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pricer{repo: repo, logger: logger}
}

// Quote prices the requested services. Duplicate ids are priced once and
// every id must resolve; there is no partial quote.
func (p *Pricer) Quote(ctx context.Context, serviceIDs []string, choice PaymentChoice) (*Quote, error) {
	ctx, span := catalogTracer.Start(ctx, "catalog.quote")
	defer span.End()

	if !choice.Valid() {
		return nil, fmt.Errorf("catalog: unknown payment choice %q", choice)
	}
	ids, err := NormalizeIDs(serviceIDs)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("salon.service_count", len(ids)))

	services, err := p.repo.ServicesByIDs(ctx, ids)
	if err != nil {
		span.RecordError(err)
		p.logger.Error("price lookup failed", "error", err, "service_ids", ids)
		return nil, &StoreUnavailableError{Err: err}
	}

	byID := make(map[string]Service, len(services))
	for _, svc := range services {
		byID[strings.ToLower(svc.ID)] = svc
	}

	quote := &Quote{Choice: choice, Services: make([]Service, 0, len(ids))}
	var missing []string
	for _, id := range ids {
		svc, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		quote.Services = append(quote.Services, svc)
		quote.TotalMinor += svc.PriceMinor
		quote.DurationMinutes += svc.DurationMinutes
	}
	if len(missing) > 0 {
		return nil, &ServiceNotFoundError{IDs: missing}
	}
	quote.AmountDueMinor = AmountDue(quote.TotalMinor, choice)

	span.SetAttributes(
		attribute.Int64("salon.total_minor", quote.TotalMinor),
		attribute.Int64("salon.amount_due_minor", quote.AmountDueMinor),
	)
	return quote, nil
}

// AmountDue returns what is collected now: the full total, or half of it
// rounded half-up to the minor unit for a deposit.
func AmountDue(totalMinor int64, choice PaymentChoice) int64 {
	if choice == ChoiceDeposit {
		return (totalMinor + 1) / 2
	}
	return totalMinor
}

// NormalizeIDs trims, validates and de-duplicates service ids, keeping the
// first-seen order.
func NormalizeIDs(serviceIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(serviceIDs))
	ids := make([]string, 0, len(serviceIDs))
	for _, raw := range serviceIDs {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidServiceID)
		}
		parsed, err := uuid.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidServiceID, trimmed)
		}
		id := parsed.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrEmptyRequest
	}
	return ids, nil
}

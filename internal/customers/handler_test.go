package customers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

type stubLister struct {
	got  ListFilter
	list []Customer
	err  error
}

func (s *stubLister) List(_ context.Context, filter ListFilter) ([]Customer, error) {
	s.got = filter
	return s.list, s.err
}

func TestListCustomers_Success(t *testing.T) {
	repo := &stubLister{list: []Customer{{ID: "c-1", FullName: "Jane Doe", Email: "jane@salon.example"}}}
	handler := NewHandler(repo, logging.Default())

	req := httptest.NewRequest(http.MethodGet, "/admin/customers?search=jane&limit=10&offset=5", nil)
	w := httptest.NewRecorder()
	handler.ListCustomers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp ListCustomersResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.Limit != 10 || resp.Offset != 5 {
		t.Errorf("unexpected paging: %+v", resp)
	}
	if repo.got.Search != "jane" {
		t.Errorf("expected search to be forwarded, got %q", repo.got.Search)
	}
}

func TestListCustomers_InvalidLimit(t *testing.T) {
	handler := NewHandler(&stubLister{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/customers?limit=abc", nil)
	w := httptest.NewRecorder()
	handler.ListCustomers(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestListCustomers_StoreError(t *testing.T) {
	handler := NewHandler(&stubLister{err: errors.New("db down")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/customers", nil)
	w := httptest.NewRecorder()
	handler.ListCustomers(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

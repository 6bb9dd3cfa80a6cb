package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{
		"https://book.salon.example/",
		" https://*.preview.salon.example ",
		"",
	})

	cases := map[string]bool{
		"https://book.salon.example":                  true,
		"http://book.salon.example":                   false,
		"https://pr-42.preview.salon.example":         true,
		"https://preview.salon.example":               false,
		"https://a.b.preview.salon.example":           false,
		"http://pr-42.preview.salon.example":          false,
		"https://pr-42.preview.salon.example:8443":    false,
		"https://evil.example/.preview.salon.example": false,
		"https://unknown.example":                     false,
		"":                                            false,
	}
	for origin, want := range cases {
		assert.Equal(t, want, policy.allows(origin), origin)
	}

	assert.True(t, newOriginPolicy([]string{"*"}).allows("https://random.example"))
}

func TestCORSSimpleRequest(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/create-payment-intent", nil)
	req.Header.Set("Origin", "https://book.salon.example")
	rec := httptest.NewRecorder()
	CORS([]string{"https://book.salon.example"})(handler).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://book.salon.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID")
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/create-payment-intent", nil)
	req.Header.Set("Origin", "https://unknown.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	CORS([]string{"https://book.salon.example"})(handler).ServeHTTP(rec, req)

	assert.True(t, called, "disallowed preflight falls through to the router")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSHandlesPreflight(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/create-payment-intent", nil)
	req.Header.Set("Origin", "https://pr-7.preview.salon.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	CORS([]string{"https://*.preview.salon.example"})(handler).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://pr-7.preview.salon.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, corsAllowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, corsAllowedHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

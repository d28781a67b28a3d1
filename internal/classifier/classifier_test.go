package classifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

func newTestClient(endpoint string) *HTTPClient {
	return NewHTTPClient(config.ClassifierConfig{
		Endpoint:   endpoint,
		Timeout:    2 * time.Second,
		MaxRetries: 0,
	}, slog.Default())
}

func TestHTTPClient_Classify(t *testing.T) {
	t.Run("parses a valid verdict", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/classify", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://img.example.com/photo.jpg", body["image_url"])
			assert.Equal(t, "construction", body["category"])

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"violation_type": "construction",
				"confidence": 0.92,
				"urgency": "high",
				"class_scores": {"construction": 0.92, "land_filling": 0.05}
			}`))
		}))
		defer srv.Close()

		out, err := newTestClient(srv.URL).Classify(context.Background(), "https://img.example.com/photo.jpg", "construction")
		require.NoError(t, err)
		assert.Equal(t, database.ViolationConstruction, out.ViolationType)
		assert.Equal(t, 0.92, out.Confidence)
		assert.Equal(t, database.UrgencyHigh, out.Urgency)
	})

	t.Run("non-200 status reports unavailability", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Classify(context.Background(), "https://img.example.com/p.jpg", "construction")
		assert.ErrorIs(t, err, database.ErrClassificationUnavailable)
	})

	t.Run("unreachable endpoint reports unavailability", func(t *testing.T) {
		_, err := newTestClient("http://127.0.0.1:1").Classify(context.Background(), "https://img.example.com/p.jpg", "construction")
		assert.ErrorIs(t, err, database.ErrClassificationUnavailable)
	})
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>502 Bad Gateway</html>`},
		{"unknown violation type", `{"violation_type": "arson", "confidence": 0.5, "urgency": "low"}`},
		{"confidence above one", `{"violation_type": "land_filling", "confidence": 1.2, "urgency": "low"}`},
		{"negative confidence", `{"violation_type": "land_filling", "confidence": -0.1, "urgency": "low"}`},
		{"unknown urgency", `{"violation_type": "debris_dumping", "confidence": 0.5, "urgency": "extreme"}`},
		{"missing fields", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResponse([]byte(tt.body))
			assert.ErrorIs(t, err, database.ErrClassificationUnavailable)
		})
	}

	t.Run("tolerates extra payload", func(t *testing.T) {
		out, err := parseResponse([]byte(`{"violation_type": "debris_dumping", "confidence": 0.4, "urgency": "medium", "debug": {"model": "v3"}}`))
		require.NoError(t, err)
		assert.Equal(t, database.ViolationDebrisDumping, out.ViolationType)
		assert.Equal(t, database.UrgencyMedium, out.Urgency)
	})
}

func TestDegraded(t *testing.T) {
	out := Degraded()
	assert.Equal(t, database.ViolationUnknown, out.ViolationType)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, database.UrgencyLow, out.Urgency)
}

func TestNoop(t *testing.T) {
	_, err := Noop{}.Classify(context.Background(), "https://img.example.com/p.jpg", "construction")
	assert.ErrorIs(t, err, database.ErrClassificationUnavailable)
}

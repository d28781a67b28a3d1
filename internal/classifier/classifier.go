// Package classifier wraps the external image classification collaborator.
// The classifier is injected into the submission pipeline as an interface;
// when it is unreachable or returns garbage the pipeline degrades to an
// unknown/low verdict instead of blocking.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

// Output is the classifier verdict consumed by the severity scorer.
type Output struct {
	ViolationType database.ViolationType `json:"violation_type"`
	Confidence    float64                `json:"confidence"`
	Urgency       database.Urgency       `json:"urgency"`
}

// Classifier produces a violation verdict for a complaint image.
type Classifier interface {
	Classify(ctx context.Context, imageURL, category string) (Output, error)
}

// Degraded is the verdict used when classification is unavailable. It maps
// to the lowest-weight scoring case.
func Degraded() Output {
	return Output{
		ViolationType: database.ViolationUnknown,
		Confidence:    0,
		Urgency:       database.UrgencyLow,
	}
}

// HTTPClient calls the classification service over HTTP.
type HTTPClient struct {
	client   *resty.Client
	endpoint string
	logger   *slog.Logger
}

// NewHTTPClient creates a classifier client with the configured timeout and
// retry budget.
func NewHTTPClient(cfg config.ClassifierConfig, logger *slog.Logger) *HTTPClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &HTTPClient{
		client:   client,
		endpoint: cfg.Endpoint,
		logger:   logger,
	}
}

// Classify posts the image reference to the classification service. Any
// transport failure, non-200 status, or unusable payload is reported as
// ErrClassificationUnavailable.
func (c *HTTPClient) Classify(ctx context.Context, imageURL, category string) (Output, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"image_url": imageURL,
			"category":  category,
		}).
		Post(c.endpoint + "/classify")
	if err != nil {
		c.logger.Warn("Classifier request failed", "error", err)
		return Output{}, fmt.Errorf("%w: %v", database.ErrClassificationUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		c.logger.Warn("Classifier returned non-200", "status", resp.StatusCode())
		return Output{}, fmt.Errorf("%w: status %d", database.ErrClassificationUnavailable, resp.StatusCode())
	}

	return parseResponse(resp.Body())
}

// parseResponse extracts the verdict fields, tolerating extra payload the
// classifier may attach (per-class scores, debug info).
func parseResponse(body []byte) (Output, error) {
	if !gjson.ValidBytes(body) {
		return Output{}, fmt.Errorf("%w: invalid response body", database.ErrClassificationUnavailable)
	}

	parsed := gjson.ParseBytes(body)
	violation := database.ViolationType(parsed.Get("violation_type").String())
	confidence := parsed.Get("confidence").Float()
	urgency := database.Urgency(parsed.Get("urgency").String())

	if !violation.Valid() {
		return Output{}, fmt.Errorf("%w: unknown violation type %q", database.ErrClassificationUnavailable, violation)
	}
	if confidence < 0 || confidence > 1 {
		return Output{}, fmt.Errorf("%w: confidence %v out of range", database.ErrClassificationUnavailable, confidence)
	}
	switch urgency {
	case database.UrgencyLow, database.UrgencyMedium, database.UrgencyHigh:
	default:
		return Output{}, fmt.Errorf("%w: unknown urgency %q", database.ErrClassificationUnavailable, urgency)
	}

	return Output{ViolationType: violation, Confidence: confidence, Urgency: urgency}, nil
}

// Noop is the classifier used when the collaborator is disabled. Every call
// reports unavailability so the pipeline takes the degraded path.
type Noop struct{}

// Classify always fails with ErrClassificationUnavailable.
func (Noop) Classify(ctx context.Context, imageURL, category string) (Output, error) {
	return Output{}, database.ErrClassificationUnavailable
}

package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
)

// HTTPScoringClient calls the external content-scoring service. Every call
// carries a bounded timeout so a slow collaborator cannot stall the webhook
// path that dispatched it.
type HTTPScoringClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScoringClient constructs the scoring client from configuration.
func NewHTTPScoringClient(cfg config.ClassifierConfig) *HTTPScoringClient {
	return &HTTPScoringClient{
		baseURL: cfg.ScoringURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Score returns the do-not-contact probability for a message body.
func (c *HTTPScoringClient) Score(ctx context.Context, message string) (float64, error) {
	endpoint := fmt.Sprintf("%s/dnc?q=%s", c.baseURL, url.QueryEscape(message))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	observer.ObserveProviderRequestDuration("scoring", "dnc_score", time.Since(start), err)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scoring service returned status %d", resp.StatusCode)
	}

	var payload struct {
		DNCScore float64 `json:"dnc_score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}
	return payload.DNCScore, nil
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// HTTPCarrierLookup resolves carrier metadata through the Telnyx number
// lookup endpoint. Lookup failures degrade to unknown metadata upstream, they
// never block message handling.
type HTTPCarrierLookup struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

var _ CarrierLookupClient = (*HTTPCarrierLookup)(nil)

// NewHTTPCarrierLookup builds a lookup client with a bounded request timeout.
func NewHTTPCarrierLookup(apiKey, baseURL string, timeout time.Duration) *HTTPCarrierLookup {
	return &HTTPCarrierLookup{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Lookup fetches carrier name and line type for a phone number.
func (c *HTTPCarrierLookup) Lookup(ctx context.Context, phoneE164 string) (*CarrierInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/number_lookup/%s?type=carrier", c.baseURL, phoneE164), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build lookup request: %w", apperrors.ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	startTime := utils.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		observer.ObserveProviderRequestDuration("carrier", "lookup", time.Since(startTime), err)
		logger.FromContext(ctx).Warn("Carrier lookup failed", zap.String("phone", phoneE164), zap.Error(err))
		return nil, fmt.Errorf("%w: lookup request failed: %w", apperrors.ErrProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	observer.ObserveProviderRequestDuration("carrier", "lookup", time.Since(startTime), err)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read lookup response: %w", apperrors.ErrProvider, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: lookup returned %d: %s", apperrors.ErrProvider, resp.StatusCode, truncate(data))
	}

	var payload struct {
		Data struct {
			Carrier struct {
				Name string `json:"name"`
				Type string `json:"type"`
			} `json:"carrier"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: failed to decode lookup response: %w", apperrors.ErrProvider, err)
	}

	return &CarrierInfo{
		Carrier: payload.Data.Carrier.Name,
		Type:    payload.Data.Carrier.Type,
	}, nil
}

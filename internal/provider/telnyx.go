package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// TelnyxClient talks to the Telnyx v2 REST API for messaging and call control.
type TelnyxClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

var _ MessagingClient = (*TelnyxClient)(nil)
var _ CallController = (*TelnyxClient)(nil)

// NewTelnyxClient builds a Telnyx client with a bounded request timeout.
func NewTelnyxClient(apiKey, baseURL string, timeout time.Duration) *TelnyxClient {
	return &TelnyxClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (c *TelnyxClient) Provider() string { return model.ProviderTelnyx }

// SendMessage submits an outbound message. The returned id is what later
// status callbacks will reference.
func (c *TelnyxClient) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	payload := map[string]interface{}{
		"from": req.From,
		"to":   req.To,
		"text": req.Body,
	}
	if req.MediaURL != "" {
		payload["media_urls"] = []string{req.MediaURL}
	}

	body, err := c.post(ctx, "/v2/messages", payload, "send_message")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode send response: %w", apperrors.ErrProvider, err)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("%w: send response missing message id", apperrors.ErrProvider)
	}
	return &SendResult{ProviderMessageID: resp.Data.ID, Raw: body}, nil
}

// PurchaseNumber orders a number in the requested area code.
func (c *TelnyxClient) PurchaseNumber(ctx context.Context, areaCode string) (*NumberOrder, error) {
	searchBody, err := c.get(ctx, fmt.Sprintf("/v2/available_phone_numbers?filter[national_destination_code]=%s&filter[limit]=1", areaCode), "search_numbers")
	if err != nil {
		return nil, err
	}
	var search struct {
		Data []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"data"`
	}
	if err := json.Unmarshal(searchBody, &search); err != nil {
		return nil, fmt.Errorf("%w: failed to decode number search: %w", apperrors.ErrProvider, err)
	}
	if len(search.Data) == 0 {
		return nil, fmt.Errorf("%w: no numbers available in area code %s", apperrors.ErrProvider, areaCode)
	}
	phone := search.Data[0].PhoneNumber

	orderBody, err := c.post(ctx, "/v2/number_orders", map[string]interface{}{
		"phone_numbers": []map[string]string{{"phone_number": phone}},
	}, "purchase_number")
	if err != nil {
		return nil, err
	}
	var order struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(orderBody, &order); err != nil {
		return nil, fmt.Errorf("%w: failed to decode number order: %w", apperrors.ErrProvider, err)
	}
	return &NumberOrder{Phone: phone, ProviderNumberID: order.Data.ID}, nil
}

// ReleaseNumber gives a number back to the provider.
func (c *TelnyxClient) ReleaseNumber(ctx context.Context, providerNumberID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v2/phone_numbers/"+providerNumberID, nil, "release_number")
	return err
}

// AnswerCall answers a ringing inbound call leg.
func (c *TelnyxClient) AnswerCall(ctx context.Context, controlID string) error {
	return c.callAction(ctx, controlID, "answer", nil)
}

// TransferCall bridges the caller to a new destination, presenting the
// original caller id so the forwarded leg shows who is really calling.
func (c *TelnyxClient) TransferCall(ctx context.Context, controlID, to, from string) error {
	return c.callAction(ctx, controlID, "transfer", map[string]interface{}{
		"to":   to,
		"from": from,
	})
}

// HangupCall terminates a call leg.
func (c *TelnyxClient) HangupCall(ctx context.Context, controlID string) error {
	return c.callAction(ctx, controlID, "hangup", nil)
}

// SpeakText plays synthesized speech to the caller.
func (c *TelnyxClient) SpeakText(ctx context.Context, controlID, text string) error {
	return c.callAction(ctx, controlID, "speak", map[string]interface{}{
		"payload":  text,
		"voice":    "female",
		"language": "en-US",
	})
}

// StartRecording begins dual-channel recording on a call leg.
func (c *TelnyxClient) StartRecording(ctx context.Context, controlID string) error {
	return c.callAction(ctx, controlID, "record_start", map[string]interface{}{
		"format":  "mp3",
		"channels": "dual",
	})
}

func (c *TelnyxClient) callAction(ctx context.Context, controlID, action string, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	_, err := c.post(ctx, fmt.Sprintf("/v2/calls/%s/actions/%s", controlID, action), payload, "call_"+action)
	return err
}

func (c *TelnyxClient) post(ctx context.Context, path string, payload interface{}, action string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, utils.MustMarshalJSON(payload), action)
}

func (c *TelnyxClient) get(ctx context.Context, path, action string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, action)
}

// do issues one API request with a short retry on transient failures.
// 4xx responses are permanent, 5xx and transport errors get retried briefly.
func (c *TelnyxClient) do(ctx context.Context, method, path string, body []byte, action string) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: failed to build request: %w", apperrors.ErrProvider, err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return apperrors.NewRetryable(apperrors.ErrProvider, "request failed: %v", err)
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%w: failed to read response: %w", apperrors.ErrProvider, readErr)
		}

		if resp.StatusCode >= 500 {
			return apperrors.NewRetryable(apperrors.ErrProvider, "api returned %d: %s", resp.StatusCode, truncate(data))
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(fmt.Errorf("%w: api returned %d: %s", apperrors.ErrUnauthorized, resp.StatusCode, truncate(data)))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(apperrors.NewFatal(apperrors.ErrProvider, "api returned %d: %s", resp.StatusCode, truncate(data)))
		}
		respBody = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	startTime := utils.Now()
	err := backoff.Retry(operation, policy)
	observer.ObserveProviderRequestDuration(model.ProviderTelnyx, action, time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Warn("Telnyx request failed",
			zap.String("action", action), zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return respBody, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

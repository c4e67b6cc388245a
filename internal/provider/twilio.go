package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// TwilioClient talks to the Twilio REST API. Requests are form-encoded and
// authenticated with account SID / auth token basic auth.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpc      *http.Client
}

var _ MessagingClient = (*TwilioClient)(nil)
var _ CallController = (*TwilioClient)(nil)

// NewTwilioClient builds a Twilio client with a bounded request timeout.
func NewTwilioClient(accountSID, authToken, baseURL string, timeout time.Duration) *TwilioClient {
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    baseURL,
		httpc:      &http.Client{Timeout: timeout},
	}
}

func (c *TwilioClient) Provider() string { return model.ProviderTwilio }

// SendMessage submits an outbound message.
func (c *TwilioClient) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("Body", req.Body)
	if req.MediaURL != "" {
		form.Set("MediaUrl", req.MediaURL)
	}

	body, err := c.postForm(ctx, c.accountPath("Messages.json"), form, "send_message")
	if err != nil {
		return nil, err
	}

	var resp struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode send response: %w", apperrors.ErrProvider, err)
	}
	if resp.SID == "" {
		return nil, fmt.Errorf("%w: send response missing message sid", apperrors.ErrProvider)
	}
	return &SendResult{ProviderMessageID: resp.SID, Raw: body}, nil
}

// PurchaseNumber buys the first available local number in the area code.
func (c *TwilioClient) PurchaseNumber(ctx context.Context, areaCode string) (*NumberOrder, error) {
	form := url.Values{}
	form.Set("AreaCode", areaCode)

	body, err := c.postForm(ctx, c.accountPath("IncomingPhoneNumbers.json"), form, "purchase_number")
	if err != nil {
		return nil, err
	}

	var resp struct {
		SID         string `json:"sid"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode purchase response: %w", apperrors.ErrProvider, err)
	}
	return &NumberOrder{Phone: resp.PhoneNumber, ProviderNumberID: resp.SID}, nil
}

// ReleaseNumber gives a number back to the provider.
func (c *TwilioClient) ReleaseNumber(ctx context.Context, providerNumberID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.accountPath("IncomingPhoneNumbers/"+providerNumberID+".json"), nil, "release_number")
	return err
}

// AnswerCall is a no-op for Twilio; inbound calls are answered by returning
// TwiML from the webhook response.
func (c *TwilioClient) AnswerCall(ctx context.Context, controlID string) error {
	return nil
}

// TransferCall redirects a live call to dial a new destination.
func (c *TwilioClient) TransferCall(ctx context.Context, controlID, to, from string) error {
	form := url.Values{}
	form.Set("Twiml", fmt.Sprintf(`<Response><Dial callerId=%q>%s</Dial></Response>`, from, to))
	_, err := c.postForm(ctx, c.accountPath("Calls/"+controlID+".json"), form, "call_transfer")
	return err
}

// HangupCall completes a live call.
func (c *TwilioClient) HangupCall(ctx context.Context, controlID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	_, err := c.postForm(ctx, c.accountPath("Calls/"+controlID+".json"), form, "call_hangup")
	return err
}

// SpeakText replaces the live call's instructions with a spoken message.
func (c *TwilioClient) SpeakText(ctx context.Context, controlID, text string) error {
	form := url.Values{}
	form.Set("Twiml", fmt.Sprintf("<Response><Say>%s</Say></Response>", text))
	_, err := c.postForm(ctx, c.accountPath("Calls/"+controlID+".json"), form, "call_speak")
	return err
}

// StartRecording starts recording on a live call.
func (c *TwilioClient) StartRecording(ctx context.Context, controlID string) error {
	form := url.Values{}
	form.Set("RecordingChannels", "dual")
	_, err := c.postForm(ctx, c.accountPath("Calls/"+controlID+"/Recordings.json"), form, "call_record_start")
	return err
}

func (c *TwilioClient) accountPath(suffix string) string {
	return "/2010-04-01/Accounts/" + c.accountSID + "/" + suffix
}

func (c *TwilioClient) postForm(ctx context.Context, path string, form url.Values, action string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, []byte(form.Encode()), action)
}

func (c *TwilioClient) do(ctx context.Context, method, path string, body []byte, action string) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = strings.NewReader(string(body))
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: failed to build request: %w", apperrors.ErrProvider, err))
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

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
	observer.ObserveProviderRequestDuration(model.ProviderTwilio, action, time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Warn("Twilio request failed",
			zap.String("action", action), zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return respBody, nil
}

package normalizer

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

func TestTelnyxParseMessage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantFrom  string
		wantBody  string
		wantMedia string
	}{
		{
			name: "nested envelope with text",
			body: `{"data":{"event_type":"message.received","payload":{
				"from":{"phone_number":"+13234567890"},
				"to":[{"phone_number":"+12068887773"}],
				"text":"is this house still available"}}}`,
			wantFrom: "+13234567890",
			wantBody: "is this house still available",
		},
		{
			name: "flat envelope",
			body: `{"event_type":"message.received","payload":{
				"from":{"phone_number":"+13234567890"},
				"to":"+12068887773",
				"text":"yes"}}`,
			wantFrom: "+13234567890",
			wantBody: "yes",
		},
		{
			name: "missing body becomes sentinel with media kept",
			body: `{"data":{"payload":{
				"from":{"phone_number":"+13234567890"},
				"to":[{"phone_number":"+12068887773"}],
				"media":[{"url":"https://cdn.telnyx.com/m/1.jpg"}]}}}`,
			wantFrom:  "+13234567890",
			wantBody:  model.NoTextSentinel,
			wantMedia: "https://cdn.telnyx.com/m/1.jpg",
		},
		{
			name:    "no payload at all",
			body:    `{"event_type":"message.received"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			body:    `<xml/>`,
			wantErr: true,
		},
	}

	adapter := NewTelnyxAdapter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/webhooks/telnyx/sms", strings.NewReader(tt.body))
			event, err := adapter.ParseMessage(req)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, KindMessageReceived, event.Kind)
			assert.Equal(t, model.ProviderTelnyx, event.Provider)
			assert.Equal(t, tt.wantFrom, event.From)
			assert.Equal(t, tt.wantBody, event.Body)
			assert.Equal(t, tt.wantMedia, event.MediaURL)
		})
	}
}

func TestTelnyxParseStatus(t *testing.T) {
	body := `{"data":{"event_type":"message.finalized","payload":{
		"id":"msg_abc123",
		"to":[{"phone_number":"+13234567890","status":"delivered"}],
		"errors":[]}}}`

	adapter := NewTelnyxAdapter()
	req := httptest.NewRequest("POST", "/webhooks/telnyx/status", strings.NewReader(body))
	event, err := adapter.ParseStatus(req)
	require.NoError(t, err)

	assert.Equal(t, KindMessageStatus, event.Kind)
	assert.Equal(t, "msg_abc123", event.ProviderMessageID)
	assert.Equal(t, "delivered", event.Status)
	assert.Empty(t, event.ErrorCode)
}

func TestTelnyxParseStatusWithError(t *testing.T) {
	body := `{"payload":{
		"id":"msg_abc123",
		"to":[{"phone_number":"+13234567890","status":"delivery_failed"}],
		"errors":[{"code":"40002"}]}}`

	adapter := NewTelnyxAdapter()
	req := httptest.NewRequest("POST", "/webhooks/telnyx/status", strings.NewReader(body))
	event, err := adapter.ParseStatus(req)
	require.NoError(t, err)

	assert.Equal(t, "40002", event.ErrorCode)
	assert.Equal(t, "delivery_failed", event.Status)
}

func TestTelnyxParseCall(t *testing.T) {
	body := `{"data":{"event_type":"call.answered","payload":{
		"from":"+13234567890",
		"to":"+12068887773",
		"call_control_id":"cc_1",
		"call_session_id":"cs_1",
		"start_time":"2026-08-01T10:00:00Z"}}}`

	adapter := NewTelnyxAdapter()
	req := httptest.NewRequest("POST", "/webhooks/telnyx/voice", strings.NewReader(body))
	event, err := adapter.ParseCall(req)
	require.NoError(t, err)

	assert.Equal(t, KindCallEvent, event.Kind)
	assert.Equal(t, "call.answered", event.CallEventType)
	assert.Equal(t, "cc_1", event.ControlID)
	assert.Equal(t, "cs_1", event.SessionID)
	require.NotNil(t, event.StartTime)
	assert.Nil(t, event.EndTime)
}

func TestTelnyxParseCallMissingSession(t *testing.T) {
	body := `{"payload":{"from":"+13234567890","to":"+12068887773"}}`
	adapter := NewTelnyxAdapter()
	req := httptest.NewRequest("POST", "/webhooks/telnyx/voice", strings.NewReader(body))
	_, err := adapter.ParseCall(req)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestTwilioParseMessage(t *testing.T) {
	form := url.Values{}
	form.Set("From", "+13234567890")
	form.Set("To", "+12068887773")
	form.Set("Body", "stop")

	req := httptest.NewRequest("POST", "/webhooks/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	adapter := NewTwilioAdapter()
	event, err := adapter.ParseMessage(req)
	require.NoError(t, err)

	assert.Equal(t, model.ProviderTwilio, event.Provider)
	assert.Equal(t, "+13234567890", event.From)
	assert.Equal(t, "stop", event.Body)
	assert.Empty(t, event.Media)
}

func TestTwilioParseMessageNoBody(t *testing.T) {
	form := url.Values{}
	form.Set("From", "+13234567890")
	form.Set("To", "+12068887773")
	form.Set("MediaUrl0", "https://api.twilio.com/m/0")

	req := httptest.NewRequest("POST", "/webhooks/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	event, err := NewTwilioAdapter().ParseMessage(req)
	require.NoError(t, err)

	assert.Equal(t, model.NoTextSentinel, event.Body)
	assert.Equal(t, "https://api.twilio.com/m/0", event.MediaURL)
}

func TestTwilioParseStatusMapsStates(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"delivered", model.MessageStatusDelivered},
		{"undelivered", model.MessageStatusDeliveryFailed},
		{"failed", model.MessageStatusSendingFailed},
		{"sent", model.MessageStatusSent},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			form := url.Values{}
			form.Set("MessageSid", "SM123")
			form.Set("MessageStatus", tt.provider)

			req := httptest.NewRequest("POST", "/webhooks/twilio/status", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			event, err := NewTwilioAdapter().ParseStatus(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Status)
			assert.Equal(t, "SM123", event.ProviderMessageID)
		})
	}
}

func TestBrokerParseMessage(t *testing.T) {
	body := `{"from":"+13234567890","to":["+12068887773"],"text":"who is this","reference_id":"ref-1"}`
	req := httptest.NewRequest("POST", "/webhooks/broker/sms", strings.NewReader(body))

	event, err := NewBrokerAdapter().ParseMessage(req)
	require.NoError(t, err)

	assert.Equal(t, model.ProviderBroker, event.Provider)
	assert.Equal(t, "+12068887773", event.To)
	assert.Equal(t, "who is this", event.Body)
	assert.Equal(t, "ref-1", event.ProviderMessageID)
}

func TestBrokerParseCallUnsupported(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhooks/broker/voice", strings.NewReader(`{}`))
	_, err := NewBrokerAdapter().ParseCall(req)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

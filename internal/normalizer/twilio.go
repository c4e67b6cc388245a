package normalizer

import (
	"fmt"
	"net/http"
	"strings"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

// TwilioAdapter parses Twilio webhooks, which arrive form-encoded rather
// than as JSON.
type TwilioAdapter struct{}

// NewTwilioAdapter returns a Twilio payload adapter.
func NewTwilioAdapter() *TwilioAdapter {
	return &TwilioAdapter{}
}

// Provider returns the provider key.
func (a *TwilioAdapter) Provider() string {
	return model.ProviderTwilio
}

// twilioStatusMap translates Twilio message statuses onto the canonical
// delivery states.
var twilioStatusMap = map[string]string{
	"queued":      model.MessageStatusSent,
	"sending":     model.MessageStatusSent,
	"sent":        model.MessageStatusSent,
	"delivered":   model.MessageStatusDelivered,
	"undelivered": model.MessageStatusDeliveryFailed,
	"failed":      model.MessageStatusSendingFailed,
}

// ParseMessage handles the inbound SMS webhook.
func (a *TwilioAdapter) ParseMessage(r *http.Request) (*InboundEvent, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: missing From/To", ErrMalformedPayload)
	}

	var media []string
	if u := r.PostFormValue("MediaUrl0"); u != "" {
		media = append(media, u)
	}

	return &InboundEvent{
		Kind:     KindMessageReceived,
		Provider: a.Provider(),
		From:     from,
		To:       to,
		Body:     normalizeBody(r.PostFormValue("Body")),
		Media:    media,
		MediaURL: firstMedia(media),
		Raw:      []byte(r.PostForm.Encode()),
	}, nil
}

// ParseStatus handles the message status callback.
func (a *TwilioAdapter) ParseStatus(r *http.Request) (*InboundEvent, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	sid := r.PostFormValue("MessageSid")
	if sid == "" {
		sid = r.PostFormValue("SmsSid")
	}
	if sid == "" {
		return nil, fmt.Errorf("%w: missing MessageSid", ErrMalformedPayload)
	}

	status := strings.ToLower(r.PostFormValue("MessageStatus"))
	if mapped, ok := twilioStatusMap[status]; ok {
		status = mapped
	}

	return &InboundEvent{
		Kind:              KindMessageStatus,
		Provider:          a.Provider(),
		To:                r.PostFormValue("To"),
		ProviderMessageID: sid,
		Status:            status,
		ErrorCode:         r.PostFormValue("ErrorCode"),
		Raw:               []byte(r.PostForm.Encode()),
	}, nil
}

// ParseCall handles the voice webhook.
func (a *TwilioAdapter) ParseCall(r *http.Request) (*InboundEvent, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	sid := r.PostFormValue("CallSid")
	if sid == "" {
		return nil, fmt.Errorf("%w: missing CallSid", ErrMalformedPayload)
	}

	eventType := CallEventInitiated
	switch strings.ToLower(r.PostFormValue("CallStatus")) {
	case "in-progress", "answered":
		eventType = CallEventAnswered
	case "completed", "busy", "failed", "no-answer":
		eventType = CallEventHangup
	}
	if r.PostFormValue("RecordingStatus") == "completed" && r.PostFormValue("RecordingUrl") != "" {
		eventType = CallEventRecordingSaved
	}

	return &InboundEvent{
		Kind:          KindCallEvent,
		Provider:      a.Provider(),
		From:          r.PostFormValue("From"),
		To:            r.PostFormValue("To"),
		CallEventType: eventType,
		ControlID:     sid,
		SessionID:     sid, // Twilio has one id for the session
		RecordingURL:  r.PostFormValue("RecordingUrl"),
		Raw:           []byte(r.PostForm.Encode()),
	}, nil
}

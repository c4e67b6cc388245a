package normalizer

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

// TelnyxAdapter parses Telnyx v2 webhook payloads. Depending on environment
// Telnyx wraps the payload under "data" or sends it at the top level; both
// shapes are accepted.
type TelnyxAdapter struct{}

// NewTelnyxAdapter returns a Telnyx payload adapter.
func NewTelnyxAdapter() *TelnyxAdapter {
	return &TelnyxAdapter{}
}

// Provider returns the provider key.
func (a *TelnyxAdapter) Provider() string {
	return model.ProviderTelnyx
}

type telnyxEnvelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Data      *struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	} `json:"data"`
}

// unwrap returns (eventType, payload) from either envelope shape.
func (a *TelnyxAdapter) unwrap(body []byte) (string, json.RawMessage, error) {
	var env telnyxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(env.Payload) > 0 {
		return env.EventType, env.Payload, nil
	}
	if env.Data != nil && len(env.Data.Payload) > 0 {
		return env.Data.EventType, env.Data.Payload, nil
	}
	return "", nil, fmt.Errorf("%w: no payload in envelope", ErrMalformedPayload)
}

// telnyxEndpoint is either a bare string or an object with phone_number;
// Telnyx uses both across message and call events.
type telnyxEndpoint struct {
	value string
}

func (e *telnyxEndpoint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.value = s
		return nil
	}
	var obj struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		e.value = obj.PhoneNumber
		return nil
	}
	var list []struct {
		PhoneNumber string `json:"phone_number"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
		e.value = list[0].PhoneNumber
		return nil
	}
	return fmt.Errorf("unrecognized endpoint shape")
}

// ParseMessage handles the message.received webhook.
func (a *TelnyxAdapter) ParseMessage(r *http.Request) (*InboundEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	_, payload, err := a.unwrap(body)
	if err != nil {
		return nil, err
	}

	var msg struct {
		From  telnyxEndpoint `json:"from"`
		To    telnyxEndpoint `json:"to"`
		Text  string         `json:"text"`
		Media []struct {
			URL string `json:"url"`
		} `json:"media"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.From.value == "" || msg.To.value == "" {
		return nil, fmt.Errorf("%w: missing from/to", ErrMalformedPayload)
	}

	media := make([]string, 0, len(msg.Media))
	for _, m := range msg.Media {
		if m.URL != "" {
			media = append(media, m.URL)
		}
	}

	return &InboundEvent{
		Kind:     KindMessageReceived,
		Provider: a.Provider(),
		From:     msg.From.value,
		To:       msg.To.value,
		Body:     normalizeBody(msg.Text),
		Media:    media,
		MediaURL: firstMedia(media),
		Raw:      body,
	}, nil
}

// ParseStatus handles the message delivery status callback.
func (a *TelnyxAdapter) ParseStatus(r *http.Request) (*InboundEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	_, payload, err := a.unwrap(body)
	if err != nil {
		return nil, err
	}

	var status struct {
		ID string `json:"id"`
		To []struct {
			PhoneNumber string `json:"phone_number"`
			Status      string `json:"status"`
		} `json:"to"`
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if status.ID == "" || len(status.To) == 0 {
		return nil, fmt.Errorf("%w: missing message id or recipients", ErrMalformedPayload)
	}

	errorCode := ""
	if len(status.Errors) > 0 {
		errorCode = status.Errors[0].Code
	}

	return &InboundEvent{
		Kind:              KindMessageStatus,
		Provider:          a.Provider(),
		To:                status.To[0].PhoneNumber,
		ProviderMessageID: status.ID,
		Status:            status.To[0].Status,
		ErrorCode:         errorCode,
		Raw:               body,
	}, nil
}

// ParseCall handles call control webhooks (initiated, answered, hangup,
// recording saved).
func (a *TelnyxAdapter) ParseCall(r *http.Request) (*InboundEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	eventType, payload, err := a.unwrap(body)
	if err != nil {
		return nil, err
	}

	var call struct {
		From          telnyxEndpoint `json:"from"`
		To            telnyxEndpoint `json:"to"`
		StartTime     string         `json:"start_time"`
		EndTime       string         `json:"end_time"`
		CallControlID string         `json:"call_control_id"`
		CallSessionID string         `json:"call_session_id"`
		RecordingURLs struct {
			MP3 string `json:"mp3"`
		} `json:"recording_urls"`
	}
	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if call.CallSessionID == "" {
		return nil, fmt.Errorf("%w: missing call session id", ErrMalformedPayload)
	}

	return &InboundEvent{
		Kind:          KindCallEvent,
		Provider:      a.Provider(),
		From:          call.From.value,
		To:            call.To.value,
		CallEventType: eventType,
		ControlID:     call.CallControlID,
		SessionID:     call.CallSessionID,
		StartTime:     parseProviderTime(call.StartTime),
		EndTime:       parseProviderTime(call.EndTime),
		RecordingURL:  call.RecordingURLs.MP3,
		Raw:           body,
	}, nil
}

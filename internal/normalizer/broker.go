package normalizer

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

// BrokerAdapter parses the phone-broker webhooks, which arrive as flat JSON
// with no envelope.
type BrokerAdapter struct{}

// NewBrokerAdapter returns a phone-broker payload adapter.
func NewBrokerAdapter() *BrokerAdapter {
	return &BrokerAdapter{}
}

// Provider returns the provider key.
func (a *BrokerAdapter) Provider() string {
	return model.ProviderBroker
}

// ParseMessage handles the inbound SMS webhook.
func (a *BrokerAdapter) ParseMessage(r *http.Request) (*InboundEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var msg struct {
		From        string   `json:"from"`
		To          []string `json:"to"`
		Text        string   `json:"text"`
		ReferenceID string   `json:"reference_id"`
		MediaURLs   []string `json:"media_urls"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.From == "" || len(msg.To) == 0 {
		return nil, fmt.Errorf("%w: missing from/to", ErrMalformedPayload)
	}

	return &InboundEvent{
		Kind:              KindMessageReceived,
		Provider:          a.Provider(),
		From:              msg.From,
		To:                msg.To[0],
		Body:              normalizeBody(msg.Text),
		Media:             msg.MediaURLs,
		MediaURL:          firstMedia(msg.MediaURLs),
		ProviderMessageID: msg.ReferenceID,
		Raw:               body,
	}, nil
}

// ParseStatus handles the delivery status callback.
func (a *BrokerAdapter) ParseStatus(r *http.Request) (*InboundEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var status struct {
		ReferenceID string `json:"reference_id"`
		Status      string `json:"status"`
		ErrorCode   string `json:"error_code"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if status.ReferenceID == "" {
		return nil, fmt.Errorf("%w: missing reference id", ErrMalformedPayload)
	}

	return &InboundEvent{
		Kind:              KindMessageStatus,
		Provider:          a.Provider(),
		ProviderMessageID: status.ReferenceID,
		Status:            status.Status,
		ErrorCode:         status.ErrorCode,
		Raw:               body,
	}, nil
}

// ParseCall is not supported by the broker; it only handles messaging.
func (a *BrokerAdapter) ParseCall(r *http.Request) (*InboundEvent, error) {
	return nil, fmt.Errorf("%w: broker does not deliver call events", ErrMalformedPayload)
}

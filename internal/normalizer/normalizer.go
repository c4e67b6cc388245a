// Package normalizer converts provider-specific webhook payloads into one
// canonical inbound event. Each provider implements Adapter; adding a
// provider means adding one adapter, nothing upstream changes.
package normalizer

import (
	"errors"
	"net/http"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

// EventKind discriminates the canonical event variants.
type EventKind string

const (
	KindMessageReceived EventKind = "message.received"
	KindMessageStatus   EventKind = "message.status"
	KindCallEvent       EventKind = "call.event"
)

// Call event types in canonical form.
const (
	CallEventInitiated      = "call.initiated"
	CallEventAnswered       = "call.answered"
	CallEventHangup         = "call.hangup"
	CallEventRecordingSaved = "call.recording.saved"
)

// ErrMalformedPayload marks a payload the adapter could not interpret. The
// webhook layer still answers 200 to the provider; the error is recorded
// locally on the owning record when one can be identified.
var ErrMalformedPayload = errors.New("malformed provider payload")

// InboundEvent is the canonical shape every adapter produces.
type InboundEvent struct {
	Kind     EventKind
	Provider string

	From string // raw, as the provider sent it
	To   string

	// Message fields.
	Body     string // NoTextSentinel when the provider omitted the body
	Media    []string
	MediaURL string // first media entry, convenience

	// Status callback fields.
	ProviderMessageID string
	Status            string
	ErrorCode         string

	// Call fields.
	CallEventType string
	ControlID     string
	SessionID     string
	StartTime     *time.Time
	EndTime       *time.Time
	RecordingURL  string

	Raw []byte // original payload preserved for audit
}

// Adapter parses one provider's webhook requests into canonical events.
type Adapter interface {
	Provider() string
	ParseMessage(r *http.Request) (*InboundEvent, error)
	ParseStatus(r *http.Request) (*InboundEvent, error)
	ParseCall(r *http.Request) (*InboundEvent, error)
}

// normalizeBody applies the missing-body sentinel.
func normalizeBody(body string) string {
	if body == "" {
		return model.NoTextSentinel
	}
	return body
}

// firstMedia returns the first media URL, or "".
func firstMedia(media []string) string {
	if len(media) == 0 {
		return ""
	}
	return media[0]
}

// parseProviderTime accepts the RFC3339 timestamps providers send; a nil
// result simply means the event did not carry the field.
func parseProviderTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

package provider

import (
	"context"
	"strings"
)

// SendRequest is a provider-agnostic outbound SMS/MMS request.
type SendRequest struct {
	From     string // E.164
	To       string // E.164
	Body     string
	MediaURL string
}

// SendResult is what the provider acknowledged at submit time. Delivery is
// resolved later by asynchronous status callbacks.
type SendResult struct {
	ProviderMessageID string
	Raw               []byte
}

// MessagingClient sends messages and manages number inventory with one
// upstream telephony provider.
type MessagingClient interface {
	Provider() string
	SendMessage(ctx context.Context, req SendRequest) (*SendResult, error)
	PurchaseNumber(ctx context.Context, areaCode string) (*NumberOrder, error)
	ReleaseNumber(ctx context.Context, providerNumberID string) error
}

// NumberOrder is the outcome of a number purchase.
type NumberOrder struct {
	Phone            string // E.164
	ProviderNumberID string
}

// CallController drives a live call at the provider.
type CallController interface {
	Provider() string
	AnswerCall(ctx context.Context, controlID string) error
	TransferCall(ctx context.Context, controlID, to, from string) error
	HangupCall(ctx context.Context, controlID string) error
	SpeakText(ctx context.Context, controlID, text string) error
	StartRecording(ctx context.Context, controlID string) error
}

// CarrierInfo is the metadata returned by a carrier lookup.
type CarrierInfo struct {
	Carrier string
	Type    string // mobile, landline, voip
}

// IsVerizon reports whether the line is served by Verizon, which gets special
// handling in campaign eligibility.
func (c CarrierInfo) IsVerizon() bool {
	return strings.Contains(strings.ToLower(c.Carrier), "verizon")
}

// CarrierLookupClient resolves carrier metadata for a phone number.
type CarrierLookupClient interface {
	Lookup(ctx context.Context, phoneE164 string) (*CarrierInfo, error)
}

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

func TestTelnyxSendMessage(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v2/messages", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":{"id":"msg-abc-123"}}`))
	}))
	defer server.Close()

	client := NewTelnyxClient("key-1", server.URL, 2*time.Second)
	result, err := client.SendMessage(context.Background(), SendRequest{
		From: "+12068887773",
		To:   "+13234567890",
		Body: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-abc-123", result.ProviderMessageID)
	assert.Equal(t, "Bearer key-1", gotAuth)
}

func TestTelnyxSendMessage_ClientErrorIsNotRetried(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":"40300"}]}`))
	}))
	defer server.Close()

	client := NewTelnyxClient("key-1", server.URL, 2*time.Second)
	_, err := client.SendMessage(context.Background(), SendRequest{From: "+1", To: "+2", Body: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProvider)
	assert.True(t, apperrors.IsFatal(err))
	assert.Equal(t, 1, calls)
}

func TestTelnyxSendMessage_UnauthorizedIsNotRetried(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"code":"10001"}]}`))
	}))
	defer server.Close()

	client := NewTelnyxClient("bad-key", server.URL, 2*time.Second)
	_, err := client.SendMessage(context.Background(), SendRequest{From: "+1", To: "+2", Body: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestTelnyxSendMessage_ServerErrorIsRetried(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"id":"msg-retry-1"}}`))
	}))
	defer server.Close()

	client := NewTelnyxClient("key-1", server.URL, 2*time.Second)
	result, err := client.SendMessage(context.Background(), SendRequest{From: "+1", To: "+2", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, "msg-retry-1", result.ProviderMessageID)
	assert.Equal(t, 2, calls)
}

func TestTwilioSendMessage(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+12068887773", r.PostForm.Get("From"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)
		w.Write([]byte(`{"sid":"SM456"}`))
	}))
	defer server.Close()

	client := NewTwilioClient("AC123", "token", server.URL, 2*time.Second)
	result, err := client.SendMessage(context.Background(), SendRequest{
		From: "+12068887773",
		To:   "+13234567890",
		Body: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM456", result.ProviderMessageID)
}

func TestCarrierLookup(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"carrier":{"name":"Verizon Wireless","type":"mobile"}}}`))
	}))
	defer server.Close()

	client := NewHTTPCarrierLookup("key-1", server.URL, 2*time.Second)
	info, err := client.Lookup(context.Background(), "+13234567890")
	require.NoError(t, err)
	assert.Equal(t, "mobile", info.Type)
	assert.True(t, info.IsVerizon())
}

func TestCarrierInfoIsVerizon(t *testing.T) {
	assert.True(t, CarrierInfo{Carrier: "VERIZON"}.IsVerizon())
	assert.False(t, CarrierInfo{Carrier: "T-Mobile USA"}.IsVerizon())
	assert.False(t, CarrierInfo{}.IsVerizon())
}

// Package events publishes domain events to JetStream for downstream
// collaborators. Publishing is advisory; no engine path blocks on the broker.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

// ClientInterface is the broker surface the publisher needs. Tests swap in a
// recording fake.
type ClientInterface interface {
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error
	Publish(subject string, data []byte, headers map[string]string) error
	Close()
}

// Client is the JetStream-backed implementation.
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

var _ ClientInterface = (*Client)(nil)

// NewClient dials NATS with unlimited reconnects. The connection outlives
// broker restarts; events emitted while disconnected are dropped by Emit's
// best-effort contract rather than buffered.
func NewClient(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Log.Error("NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{nc: nc, js: js}, nil
}

// SetupStream creates the stream or reconciles its config when it already
// exists, so subject or retention changes land on deploy.
func (c *Client) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	log := logger.FromContext(ctx)

	info, err := c.js.StreamInfo(streamConfig.Name)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("%w: failed to get stream info for '%s': %w", apperrors.ErrNATS, streamConfig.Name, err)
	}

	if info == nil {
		if _, err = c.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("%w: failed to add stream '%s': %w", apperrors.ErrNATS, streamConfig.Name, err)
		}
		log.Info("Created event stream",
			zap.String("name", streamConfig.Name),
			zap.Any("subjects", streamConfig.Subjects))
		return nil
	}

	if _, err = c.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("%w: failed to update stream '%s': %w", apperrors.ErrNATS, streamConfig.Name, err)
	}
	log.Info("Updated event stream", zap.String("name", streamConfig.Name))
	return nil
}

// Publish sends one message with optional headers.
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Add(k, v)
	}

	if _, err := c.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: failed to publish message: %w", apperrors.ErrNATS, err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

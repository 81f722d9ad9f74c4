package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBridge wraps an InProcessBus and additionally mirrors every
// published envelope to a NATS subject named after the topic, so a
// second process can subscribe to the same bus without sharing memory.
// Inbound NATS messages on bridged topics are re-published locally,
// making the bridge transparent to Bus consumers.
type NATSBridge struct {
	*InProcessBus
	conn    *nats.Conn
	logger  zerolog.Logger
	subs    []*nats.Subscription
	bridged map[string]bool
}

// NewNATSBridge dials url and wraps inner, bridging the given topics.
// A connection failure is returned rather than silently degrading to
// in-process-only, since the caller explicitly asked for cross-process
// delivery.
func NewNATSBridge(inner *InProcessBus, url string, topics []string, logger zerolog.Logger) (*NATSBridge, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}

	bridged := make(map[string]bool, len(topics))
	for _, t := range topics {
		bridged[t] = true
	}

	return &NATSBridge{
		InProcessBus: inner,
		conn:         conn,
		logger:       logger.With().Str("component", "bus.nats").Logger(),
		bridged:      bridged,
	}, nil
}

// Start brings up the in-process bus and subscribes NATS subjects for
// every bridged topic, re-publishing received envelopes locally.
func (n *NATSBridge) Start(ctx context.Context) error {
	if err := n.InProcessBus.Start(ctx); err != nil {
		return err
	}

	for topic := range n.bridged {
		topic := topic
		sub, err := n.conn.Subscribe(topic, func(msg *nats.Msg) {
			var env Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				n.logger.Warn().Err(err).Str("topic", topic).Msg("failed to decode bridged envelope")
				return
			}
			_ = n.InProcessBus.Publish(ctx, env)
		})
		if err != nil {
			return err
		}
		n.subs = append(n.subs, sub)
	}

	return nil
}

// Publish delivers locally, then — if the topic is bridged — serializes
// the envelope to the self-describing wire format and publishes it to
// the matching NATS subject.
func (n *NATSBridge) Publish(ctx context.Context, env Envelope) error {
	if err := n.InProcessBus.Publish(ctx, env); err != nil {
		return err
	}

	if !n.bridged[env.Topic] {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return n.conn.Publish(env.Topic, data)
}

// Stop unsubscribes from NATS, closes the connection, and stops the
// wrapped in-process bus.
func (n *NATSBridge) Stop(grace time.Duration) error {
	for _, sub := range n.subs {
		_ = sub.Unsubscribe()
	}
	n.conn.Close()
	return n.InProcessBus.Stop(grace)
}

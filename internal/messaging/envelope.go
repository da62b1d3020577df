package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the wire form used by the Redis and WebSocket backends, which
// carry several events on one channel.
type envelope struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decode notification: %w", err)
	}
	if env.Event == "" {
		return envelope{}, fmt.Errorf("decode notification: missing event")
	}
	return env, nil
}

// natsSubject maps a channel/event pair onto a NATS subject.
func natsSubject(channel, event string) string {
	return strings.TrimSuffix(channel, ".") + "." + event
}

package messaging

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type subscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Event   string `json:"event"`
}

// WebSocketSubscriber listens on the payment backend's push gateway. Each
// subscription holds its own connection.
type WebSocketSubscriber struct {
	url         string
	header      http.Header
	dialer      *websocket.Dialer
	dialTimeout time.Duration
	logger      *zap.Logger
}

func NewWebSocketSubscriber(url, apiKey string, logger *zap.Logger) *WebSocketSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	return &WebSocketSubscriber{
		url:         url,
		header:      header,
		dialer:      websocket.DefaultDialer,
		dialTimeout: 10 * time.Second,
		logger:      logger,
	}
}

func (s *WebSocketSubscriber) Subscribe(channel, event string, handler func(payload []byte)) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	defer cancel()

	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return nil, fmt.Errorf("dial push gateway: %w", err)
	}
	if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Channel: channel, Event: event}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readPump(conn, channel, event, handler)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
			<-done
		})
	}, nil
}

func (s *WebSocketSubscriber) readPump(conn *websocket.Conn, channel, event string, handler func(payload []byte)) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Push gateway connection lost", zap.String("channel", channel), zap.Error(err))
			}
			return
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			s.logger.Warn("Dropping malformed notification", zap.String("channel", channel), zap.Error(err))
			continue
		}
		if env.Event != event || (env.Channel != "" && env.Channel != channel) {
			continue
		}
		handler(env.Data)
	}
}

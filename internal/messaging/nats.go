package messaging

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSubscriber receives status notifications relayed onto NATS subjects.
type NATSSubscriber struct {
	nc     *nats.Conn
	logger *zap.Logger
}

func NewNATSSubscriber(nc *nats.Conn, logger *zap.Logger) *NATSSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSubscriber{nc: nc, logger: logger}
}

func (s *NATSSubscriber) Subscribe(channel, event string, handler func(payload []byte)) (func(), error) {
	subject := natsSubject(channel, event)
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.logger.Debug("Subscribed to notifications", zap.String("subject", subject))

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("Unsubscribe failed", zap.String("subject", subject), zap.Error(err))
		}
	}, nil
}

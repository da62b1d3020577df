package strategy

import (
	"strings"
	"time"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/payerr"
)

const defaultMockDelay = 2 * time.Second

// Resolve picks the strategy for the configured provider. An empty provider
// falls back to the mock terminal.
func Resolve(cfg models.TerminalConfig, api interfaces.PaymentAPI, sub interfaces.NotificationSubscriber, opts ...Option) (interfaces.PaymentStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(cfg.Provider)) {
	case models.ProviderViva:
		s, err := NewVivaStrategy(api, sub, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case models.ProviderNets:
		s, err := NewNetsStrategy(api, sub, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case models.ProviderMock, "":
		o := buildOptions(opts)
		return NewMockStrategy(defaultMockDelay, o.logger), nil
	default:
		return nil, payerr.New(payerr.CodeMissingConfig, "unsupported payment provider: "+cfg.Provider)
	}
}

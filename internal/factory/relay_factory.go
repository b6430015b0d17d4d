package factory

import (
	"github.com/mikey/mailguard/internal/adapters/relay"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// RelayFactory creates the SMTP relay used to deliver released messages
type RelayFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRelayFactory creates a new relay factory
func NewRelayFactory(cfg *config.Config, logger *zap.Logger) *RelayFactory {
	return &RelayFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRelay creates the relay from the relay.* settings
func (f *RelayFactory) CreateRelay() (core.Relay, error) {
	rc, err := f.cfg.GetRelay()
	if err != nil {
		return nil, err
	}
	return relay.NewSMTPRelay(relay.Options{
		Address:  rc.Address,
		Port:     rc.Port,
		Helo:     rc.Helo,
		Username: rc.Username,
		Password: rc.Password,
		StartTLS: rc.StartTLS,
		Timeout:  rc.Timeout,
	}, f.logger), nil
}

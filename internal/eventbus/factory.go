package eventbus

import (
	"fmt"

	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/pkg/logger"
)

// New dials the transport named by cfg.Transport ("nats" or "kafka").
func New(cfg *config.EventBusConfig, log *logger.Logger) (Bus, error) {
	switch cfg.Transport {
	case "kafka":
		return NewKafkaBus(cfg, log)
	case "nats", "":
		return NewNATSBus(cfg, log)
	default:
		return nil, fmt.Errorf("unknown eventbus transport %q", cfg.Transport)
	}
}

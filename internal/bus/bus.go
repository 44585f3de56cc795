package bus

import (
	"fmt"
	"strings"

	"github.com/openfinsec/kestrel/internal/domain"
)

// New builds the event bus named by the configuration. An empty type
// means the in-process channel bus, which needs no broker.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("unknown event bus type %q", cfg.Type)
}

//go:build windows

package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BonjourProbe is a no-op on Windows where multicast DNS is not reliably
// supported.
type BonjourProbe struct {
	timeout time.Duration
}

// NewBonjourProbe returns a no-op Bonjour probe on Windows.
func NewBonjourProbe(timeout time.Duration, logger *zap.Logger) *BonjourProbe {
	logger.Warn("mDNS unavailable on this platform, Bonjour discovery disabled")
	return &BonjourProbe{timeout: timeout}
}

func (p *BonjourProbe) Name() string           { return "bonjour" }
func (p *BonjourProbe) Timeout() time.Duration { return p.timeout }
func (p *BonjourProbe) Available() bool        { return false }

// Run is a no-op on Windows.
func (p *BonjourProbe) Run(_ context.Context, _ Sink) error {
	return nil
}

package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"rental-payments/models"
	"rental-payments/utils"
)

// SandboxConfig controls simulated provider behaviour.
type SandboxConfig struct {
	MinLatency time.Duration
	MaxLatency time.Duration
	// SuccessRate is the probability a card operation is approved, 0..1.
	SuccessRate float64
	// Roll returns a value in [0,1). Nil uses math/rand.
	Roll func() float64
}

type simulator struct {
	cfg SandboxConfig
}

func newSimulator(cfg SandboxConfig) *simulator {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	if cfg.Roll == nil {
		cfg.Roll = rand.Float64
	}
	return &simulator{cfg: cfg}
}

// wait sleeps for a random latency in [MinLatency, MaxLatency] or until ctx is done.
func (s *simulator) wait(ctx context.Context) error {
	d := s.cfg.MinLatency
	if spread := s.cfg.MaxLatency - s.cfg.MinLatency; spread > 0 {
		d += time.Duration(rand.Int64N(int64(spread)))
	}
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *simulator) approve() bool {
	return s.cfg.Roll() < s.cfg.SuccessRate
}

// reference synthesizes a provider-side id such as MTN-9F3A1C27B4D0.
func reference(p models.Provider) string {
	code, err := utils.GenerateCode(6)
	if err != nil {
		code = fmt.Sprintf("%X", time.Now().UnixNano())
	}
	return p.IDPrefix() + "-" + code
}

// cardToken returns tok_<24 hex chars>.
func cardToken() string {
	code, err := utils.GenerateCode(12)
	if err != nil {
		code = fmt.Sprintf("%024X", time.Now().UnixNano())
	}
	return "tok_" + strings.ToLower(code)
}

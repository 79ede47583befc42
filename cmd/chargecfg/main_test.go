package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/events"
	"github.com/pitabwire/chargecfg/model"
)

// slowPublisher takes a while to deliver and remembers events that arrive
// after it was closed.
type slowPublisher struct {
	mu        sync.Mutex
	closed    bool
	delivered int
	late      int
}

func (p *slowPublisher) Publish(context.Context, events.Event) error {
	time.Sleep(20 * time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.late++
		return nil
	}
	p.delivered++
	return nil
}

func (p *slowPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func expiringRegistry() *catalog.Registry {
	return catalog.NewRegistry(catalog.Catalog{Charges: []model.ChargeConfig{{
		Code:   "TOLL",
		Status: model.ChargeStatusActive,
		Rules: []model.RuleConfig{{
			ID:       "R001",
			Status:   model.RuleStatusActive,
			RateType: model.RateFixed,
			Validity: model.Validity{End: model.NewDate(2020, time.January, 31)},
		}},
	}}})
}

func TestStartRuleExpiry_stopWaitsForSweep(t *testing.T) {
	pub := &slowPublisher{}

	stop := startRuleExpiry(context.Background(), expiringRegistry(), pub, nil, time.Hour, zap.NewNop())
	stop()
	if err := pub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if pub.late != 0 {
		t.Errorf("%d events published after close", pub.late)
	}
	if pub.delivered != 1 {
		t.Errorf("delivered = %d, want the expiry of R001", pub.delivered)
	}
	stop()
}

func TestStartRuleExpiry_disabled(t *testing.T) {
	pub := &slowPublisher{}

	stop := startRuleExpiry(context.Background(), expiringRegistry(), pub, nil, 0, zap.NewNop())
	stop()

	if pub.delivered != 0 {
		t.Errorf("delivered = %d, want none with the sweeper disabled", pub.delivered)
	}
}

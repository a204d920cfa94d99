package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Prober polls a backend URL and feeds the result into a Monitor. Any HTTP
// answer below 500 counts as reachable.
type Prober struct {
	client   *resty.Client
	target   string
	monitor  *Monitor
	interval time.Duration
	logger   *zap.Logger
}

func NewProber(target string, monitor *Monitor, interval time.Duration, client *resty.Client, logger *zap.Logger) (*Prober, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("probe url is required")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if client == nil {
		client = resty.New()
		client.SetTimeout(defaultProbeTimeout)
	}
	client.SetRetryCount(0)

	return &Prober{
		client:   client,
		target:   target,
		monitor:  monitor,
		interval: interval,
		logger:   observability.Component(logger, "prober"),
	}, nil
}

func (p *Prober) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce checks the target once and returns the observed state.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	online := p.probe(ctx)
	if ctx.Err() != nil {
		return p.monitor.Online()
	}
	if p.monitor.Set(online) {
		p.logger.Info("connectivity changed", zap.Bool("online", online), zap.String("target", p.target))
	}
	return online
}

func (p *Prober) probe(ctx context.Context) bool {
	response, err := p.client.R().SetContext(ctx).Head(p.target)
	if err != nil {
		p.logger.Debug("probe failed", zap.String("target", p.target), zap.Error(err))
		return false
	}
	return response.StatusCode() < http.StatusInternalServerError
}

// Package probe determines whether a candidate host is live. The tcp method
// attempts a connection handshake against a small fixed port set; the icmp
// method sends an echo request where the platform permits. Either way a probe
// never blocks past its timeout and never retries internally.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-ping/ping"

	"github.com/netsweep/netsweep/internal/config"
	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/logging"
	"github.com/netsweep/netsweep/internal/metrics"
)

// Result is the outcome of one reachability probe.
type Result struct {
	Live    bool
	Latency time.Duration
}

// Prober checks host reachability.
type Prober struct {
	method     string
	probePorts []int
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// New creates a prober for the configured method and probe port set.
func New(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) *Prober {
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Prober{
		method:     cfg.ProbeMethod,
		probePorts: cfg.ProbePorts,
		logger:     logger.WithComponent("prober"),
		metrics:    m,
	}
}

// Probe checks one address. The host is live if any single check succeeds
// within timeout. Failure to elicit a response is not an error; only the
// live/not-live outcome is reported.
func (p *Prober) Probe(ctx context.Context, address string, timeout time.Duration) Result {
	start := time.Now()

	var res Result
	if p.method == config.ProbeMethodICMP {
		res = p.probeICMP(ctx, address, timeout)
	} else {
		res = p.probeTCP(ctx, address, timeout)
	}

	p.metrics.RecordProbe(res.Live, time.Since(start))
	p.logger.Debug("probe finished",
		"target", address, "live", res.Live, "latency", res.Latency)
	return res
}

// probeTCP tries each probe port in order until one handshake completes. A
// refused connection still proves the host is up; only a silent timeout on
// every port counts as not-live.
func (p *Prober) probeTCP(ctx context.Context, address string, timeout time.Duration) Result {
	// One deadline covers the whole probe port set, so a packet-dropping
	// host costs at most timeout, not timeout per port.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	for _, port := range p.probePorts {
		if ctx.Err() != nil {
			break
		}

		attempt := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
		latency := time.Since(attempt)
		if err == nil {
			conn.Close()
			return Result{Live: true, Latency: latency}
		}
		if isRefused(err) {
			return Result{Live: true, Latency: latency}
		}
	}

	if ctx.Err() != nil {
		p.logger.Debug("probe timed out",
			"target", address, "kind", errors.CodeProbeTimeout)
	}
	return Result{}
}

// probeICMP sends one echo request in unprivileged (UDP datagram) mode.
func (p *Prober) probeICMP(ctx context.Context, address string, timeout time.Duration) Result {
	pinger, err := ping.NewPinger(address)
	if err != nil {
		p.logger.Debug("pinger setup failed", "target", address, "error", err)
		return Result{}
	}
	// Unprivileged UDP datagram mode, so sweeps work without raw sockets.
	pinger.SetPrivileged(false)
	pinger.Count = 1
	pinger.Timeout = timeout

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	err = pinger.Run()
	close(done)
	if err != nil {
		p.logger.Debug("ping failed", "target", address, "error", err)
		return Result{}
	}

	stats := pinger.Statistics()
	if stats == nil || stats.PacketsRecv == 0 {
		return Result{}
	}
	return Result{Live: true, Latency: stats.AvgRtt}
}

// isRefused reports whether the dial was answered with a RST. A refusal
// still proves a host is present.
func isRefused(err error) bool {
	return errors.ClassifyDialError(err) == errors.CodeConnectionRefused
}

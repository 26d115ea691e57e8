// Package portscan probes single host:port pairs and classifies the outcome
// as open, closed, or filtered. Open ports get a bounded banner read within a
// secondary timeout; transient local resource errors are retried with
// exponential backoff, nothing else ever is.
package portscan

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/netsweep/netsweep/internal/config"
	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/logging"
	"github.com/netsweep/netsweep/internal/metrics"
	"github.com/netsweep/netsweep/internal/service"
)

// maxBannerBytes bounds how much unsolicited service output is kept.
const maxBannerBytes = 1024

// State is the observed condition of a scanned port.
type State string

const (
	StateOpen     State = "open"
	StateClosed   State = "closed"
	StateFiltered State = "filtered"
)

// PortResult is the outcome of scanning one port on one host.
type PortResult struct {
	Port          int           `json:"port"`
	State         State         `json:"state"`
	ServiceGuess  string        `json:"service_guess,omitempty"`
	Banner        []byte        `json:"banner,omitempty"`
	ProbeDuration time.Duration `json:"probe_duration"`
}

// dialFunc establishes one connection attempt. Swappable in tests to inject
// dial failures.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Scanner probes individual ports. It is stateless and safe for concurrent
// use; every attempt is independent and idempotent.
type Scanner struct {
	bannerTimeout time.Duration
	maxRetries    int
	retryBase     time.Duration
	retryMax      time.Duration
	dial          dialFunc
	logger        *logging.Logger
	metrics       *metrics.Metrics
}

// New creates a scanner with the sweep's timeout and retry policy.
func New(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) *Scanner {
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Scanner{
		bannerTimeout: cfg.BannerTimeout,
		maxRetries:    cfg.MaxRetries,
		retryBase:     cfg.RetryBaseDelay,
		retryMax:      cfg.RetryMaxDelay,
		dial:          (&net.Dialer{Timeout: cfg.ScanTimeout}).DialContext,
		logger:        logger.WithComponent("portscan"),
		metrics:       m,
	}
}

// ScanPort probes host:port. Closed and filtered outcomes are terminal for
// the attempt; only transient resource exhaustion is retried, so scanning
// never amplifies load on a host that is dropping packets.
func (s *Scanner) ScanPort(ctx context.Context, host string, port int) PortResult {
	delay := s.retryBase

	for attempt := 0; ; attempt++ {
		result, code := s.attempt(ctx, host, port)
		s.metrics.RecordPortScan(string(result.State), result.ProbeDuration)

		if code != errors.CodeTransientResource || attempt >= s.maxRetries {
			return result
		}

		s.metrics.RecordRetry()
		s.logger.Debug("retrying after transient resource error",
			"target", host, "port", port, "attempt", attempt+1, "delay", delay)

		select {
		case <-ctx.Done():
			return result
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.retryMax {
			delay = s.retryMax
		}
	}
}

// attempt performs one connection attempt and, on success, one banner read.
func (s *Scanner) attempt(ctx context.Context, host string, port int) (PortResult, errors.ErrorCode) {
	result := PortResult{Port: port, State: StateFiltered}

	start := time.Now()
	conn, err := s.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	result.ProbeDuration = time.Since(start)

	if err != nil {
		code := errors.ClassifyDialError(err)
		if code == errors.CodeConnectionRefused {
			result.State = StateClosed
		}
		return result, code
	}
	defer conn.Close()

	result.State = StateOpen
	result.Banner = s.readBanner(conn)
	result.ServiceGuess = service.Classify(port, result.Banner)
	return result, ""
}

// readBanner collects whatever the service volunteers within the banner
// timeout. No bytes arriving is normal for protocols where the client
// speaks first.
func (s *Scanner) readBanner(conn net.Conn) []byte {
	if err := conn.SetReadDeadline(time.Now().Add(s.bannerTimeout)); err != nil {
		return nil
	}

	buf := make([]byte, maxBannerBytes)
	n, _ := conn.Read(buf)
	if n == 0 {
		return nil
	}
	return buf[:n]
}

package portscan

import (
	"context"
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsweep/netsweep/internal/config"
	"github.com/netsweep/netsweep/internal/metrics"
)

func newScanner(t *testing.T) *Scanner {
	t.Helper()
	cfg := config.Default()
	cfg.ScanTimeout = time.Second
	cfg.BannerTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 50 * time.Millisecond
	return New(cfg, nil, metrics.New())
}

// serve opens a listener that writes banner to every accepted connection.
func serve(t *testing.T, banner string) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if banner != "" {
				_, _ = conn.Write([]byte(banner))
			}
			time.Sleep(50 * time.Millisecond)
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	ln.Close()
	return port
}

func TestScanPortOpenWithBanner(t *testing.T) {
	host, port := serve(t, "SSH-2.0-OpenSSH_9.6\r\n")
	s := newScanner(t)

	res := s.ScanPort(context.Background(), host, port)

	assert.Equal(t, StateOpen, res.State)
	assert.Equal(t, port, res.Port)
	assert.Contains(t, string(res.Banner), "SSH-2.0")
	assert.Equal(t, "ssh", res.ServiceGuess)
	assert.Positive(t, res.ProbeDuration)
}

func TestScanPortOpenSilentService(t *testing.T) {
	host, port := serve(t, "")
	s := newScanner(t)

	res := s.ScanPort(context.Background(), host, port)

	// No banner is non-fatal; the port is still open.
	assert.Equal(t, StateOpen, res.State)
	assert.Empty(t, res.Banner)
}

func TestScanPortClosed(t *testing.T) {
	port := closedPort(t)
	s := newScanner(t)

	res := s.ScanPort(context.Background(), "127.0.0.1", port)

	assert.Equal(t, StateClosed, res.State)
	assert.Empty(t, res.Banner)
	assert.Empty(t, res.ServiceGuess)
}

func TestScanPortFiltered(t *testing.T) {
	cfg := config.Default()
	cfg.ScanTimeout = 100 * time.Millisecond
	cfg.BannerTimeout = 50 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 50 * time.Millisecond
	s := New(cfg, nil, metrics.New())

	// TEST-NET-1 drops packets, so the dial neither completes nor refuses.
	start := time.Now()
	res := s.ScanPort(context.Background(), "192.0.2.1", 80)
	elapsed := time.Since(start)

	assert.Equal(t, StateFiltered, res.State)
	// Filtered is terminal: no retries, so total time stays near one timeout.
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestScanPortIdempotent(t *testing.T) {
	host, port := serve(t, "220 files.example.com FTP ready\r\n")
	s := newScanner(t)

	first := s.ScanPort(context.Background(), host, port)
	second := s.ScanPort(context.Background(), host, port)

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.ServiceGuess, second.ServiceGuess)
	assert.Equal(t, first.Banner, second.Banner)
}

// gatherCounter reads a counter family's value from a metrics registry.
func gatherCounter(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.Len(t, f.GetMetric(), 1)
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

type timeoutDialError struct{}

func (timeoutDialError) Error() string   { return "i/o timeout" }
func (timeoutDialError) Timeout() bool   { return true }
func (timeoutDialError) Temporary() bool { return true }

func TestScanPortRetriesTransientErrors(t *testing.T) {
	cfg := config.Default()
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 20 * time.Millisecond
	cfg.RetryMaxDelay = 30 * time.Millisecond

	m := metrics.New()
	s := New(cfg, nil, m)

	// Every attempt hits local descriptor exhaustion.
	var stamps []time.Time
	s.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		stamps = append(stamps, time.Now())
		return nil, &net.OpError{Op: "dial", Err: syscall.EMFILE}
	}

	res := s.ScanPort(context.Background(), "192.0.2.1", 80)

	// Base attempt plus max_retries, then the transient outcome reads as
	// filtered.
	require.Len(t, stamps, 3)
	assert.Equal(t, StateFiltered, res.State)
	assert.Equal(t, float64(2), gatherCounter(t, m, "netsweep_scan_retries_total"))

	// Backoff doubles from the base delay and caps at retry_max_delay.
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 30*time.Millisecond)
}

func TestScanPortRecoversAfterTransientError(t *testing.T) {
	host, port := serve(t, "SSH-2.0-OpenSSH_9.6\r\n")

	cfg := config.Default()
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond

	m := metrics.New()
	s := New(cfg, nil, m)

	real := &net.Dialer{Timeout: time.Second}
	calls := 0
	s.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		calls++
		if calls == 1 {
			return nil, &net.OpError{Op: "dial", Err: syscall.ENOBUFS}
		}
		return real.DialContext(ctx, network, address)
	}

	res := s.ScanPort(context.Background(), host, port)

	assert.Equal(t, 2, calls)
	assert.Equal(t, StateOpen, res.State)
	assert.Equal(t, "ssh", res.ServiceGuess)
	assert.Equal(t, float64(1), gatherCounter(t, m, "netsweep_scan_retries_total"))
}

func TestScanPortDoesNotRetryTerminalOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		dialErr error
		want    State
	}{
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, StateClosed},
		{"timeout", &net.OpError{Op: "dial", Err: timeoutDialError{}}, StateFiltered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScanner(t)

			attempts := 0
			s.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
				attempts++
				return nil, tt.dialErr
			}

			res := s.ScanPort(context.Background(), "192.0.2.1", 80)
			assert.Equal(t, tt.want, res.State)
			assert.Equal(t, 1, attempts)
		})
	}
}

func TestScanPortHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScanner(t)
	res := s.ScanPort(ctx, "192.0.2.1", 80)

	// A cancelled dial reads as filtered; the call must return promptly.
	assert.Equal(t, StateFiltered, res.State)
}

package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsweep/netsweep/internal/config"
	"github.com/netsweep/netsweep/internal/metrics"
)

func newTCPProber(t *testing.T, ports ...int) *Prober {
	t.Helper()
	cfg := config.Default()
	cfg.ProbeMethod = config.ProbeMethodTCP
	cfg.ProbePorts = ports
	return New(cfg, nil, metrics.New())
}

// listen opens a local listener and returns its address and port.
func listen(t *testing.T) (string, int) {
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
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestProbeLiveHost(t *testing.T) {
	host, port := listen(t)
	p := newTCPProber(t, port)

	res := p.Probe(context.Background(), host, time.Second)
	assert.True(t, res.Live)
	assert.Positive(t, res.Latency)
}

func TestProbeRefusedPortStillLive(t *testing.T) {
	// Reserve a port, then close it so the dial gets a RST.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	ln.Close()

	p := newTCPProber(t, port)
	res := p.Probe(context.Background(), "127.0.0.1", time.Second)
	assert.True(t, res.Live)
}

func TestProbeUnreachableHost(t *testing.T) {
	// TEST-NET-1 drops everything; the probe must give up within timeout.
	p := newTCPProber(t, 80)

	start := time.Now()
	res := p.Probe(context.Background(), "192.0.2.1", 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, res.Live)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestProbeTimeoutCoversWholePortSet(t *testing.T) {
	// Three silent ports on a packet-dropping host must cost one timeout
	// total, not one timeout per port.
	p := newTCPProber(t, 80, 81, 82)

	start := time.Now()
	res := p.Probe(context.Background(), "192.0.2.1", 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, res.Live)
	assert.Less(t, elapsed, 450*time.Millisecond)
}

func TestProbeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTCPProber(t, 80)
	res := p.Probe(ctx, "192.0.2.1", 5*time.Second)
	assert.False(t, res.Live)
}

func TestProbeICMPInvalidAddress(t *testing.T) {
	cfg := config.Default()
	cfg.ProbeMethod = config.ProbeMethodICMP
	p := New(cfg, nil, metrics.New())

	res := p.Probe(context.Background(), "not an address", 100*time.Millisecond)
	assert.False(t, res.Live)
}

// Package engine coordinates a full sweep: it streams candidates out of the
// enumerator, probes them for liveness, fans out per-port scan tasks for live
// hosts, and assembles a deterministic report. All phases share one admission
// gate so the total outbound connection rate stays bounded.
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/netsweep/netsweep/internal/config"
	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/gate"
	"github.com/netsweep/netsweep/internal/logging"
	"github.com/netsweep/netsweep/internal/metrics"
	"github.com/netsweep/netsweep/internal/portscan"
	"github.com/netsweep/netsweep/internal/probe"
	"github.com/netsweep/netsweep/internal/target"
)

// updateBuffer sizes the live-update channel. Slow consumers miss updates
// rather than stalling the sweep.
const updateBuffer = 64

// hostSlot is the per-candidate workspace. The probe task owns result until
// handoff; port tasks each write only their own index of portResults. Only
// the remaining counter is shared.
type hostSlot struct {
	candidate target.Candidate
	result    HostResult

	portResults []portscan.PortResult
	remaining   int64

	// complete is set once the slot's result is fully assembled. Slots
	// left incomplete by cancellation are excluded from the report.
	complete atomic.Bool
}

// Engine runs sweeps. One engine may run one sweep at a time.
type Engine struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	gate       *gate.Gate
	enumerator *target.Enumerator
	prober     *probe.Prober
	scanner    *portscan.Scanner

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	updates chan HostResult
}

// New validates the configuration and builds an engine. A configuration
// error here is the only failure that prevents a sweep from starting.
func New(cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("engine")
	m := metrics.Default()

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		gate:       gate.New(cfg.MaxConcurrency, cfg.MaxRate, m),
		enumerator: target.NewEnumerator(logger),
		prober:     probe.New(cfg, logger, m),
		scanner:    portscan.New(cfg, logger, m),
		state:      StatePending,
		updates:    make(chan HostResult, updateBuffer),
	}, nil
}

// State returns the sweep's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Cancel requests cancellation of a running sweep. In-flight operations
// finish or hit their own timeouts; no new work is admitted.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Updates returns a channel delivering each host result as it completes.
// The channel is closed when the sweep finishes. Updates are dropped, not
// queued, if the consumer falls behind.
func (e *Engine) Updates() <-chan HostResult {
	return e.updates
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.terminal() {
		return
	}
	e.logger.Debug("state transition", "from", e.state, "to", s)
	e.state = s
}

// Run executes the sweep and always returns a report, even under partial
// failure or cancellation.
func (e *Engine) Run(ctx context.Context) (*ScanReport, error) {
	runID := uuid.New().String()
	log := e.logger.WithScanID(runID)

	if e.cfg.ScanDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ScanDeadline)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	report := &ScanReport{
		RunID:     runID,
		Targets:   e.cfg.Targets,
		StartedAt: time.Now(),
	}

	log.Info("sweep started",
		"targets", len(e.cfg.Targets),
		"ports", len(e.cfg.Ports),
		"max_concurrency", e.cfg.MaxConcurrency,
		"max_rate", e.cfg.MaxRate)

	var (
		probeWG sync.WaitGroup
		portWG  sync.WaitGroup
	)

	// ENUMERATING: stream candidates straight into probe tasks. Slots are
	// appended by this goroutine only, so production order is the report
	// order. Overlapping specs are deduplicated by address, first seen wins.
	e.setState(StateEnumerating)
	seen := make(map[string]struct{})
	var slots []*hostSlot

	for _, spec := range e.cfg.Targets {
		if ctx.Err() != nil || report.Truncated {
			break
		}
		err := e.enumerator.Enumerate(ctx, spec, func(c target.Candidate) bool {
			if _, dup := seen[c.Address]; dup {
				return true
			}
			if len(slots) >= e.cfg.MaxCandidates {
				report.Truncated = true
				log.Warn("candidate cap reached, enumeration truncated",
					"cap", e.cfg.MaxCandidates)
				return false
			}
			seen[c.Address] = struct{}{}

			slot := &hostSlot{candidate: c}
			slots = append(slots, slot)

			probeWG.Add(1)
			go e.probeAndScan(ctx, slot, &probeWG, &portWG)
			return ctx.Err() == nil
		})
		if err != nil {
			log.ErrorScan("target enumeration failed", spec, err)
			report.Errors = append(report.Errors, toScanError(spec, err))
		}
	}

	e.setState(StateProbing)
	probeWG.Wait()
	e.setState(StateScanningPorts)
	portWG.Wait()

	// AGGREGATING: assemble hosts in production order. Slots cut short by
	// cancellation are dropped so every reported entry is fully formed.
	e.setState(StateAggregating)
	for _, slot := range slots {
		if slot.complete.Load() {
			report.Hosts = append(report.Hosts, slot.result)
		}
	}
	report.FinishedAt = time.Now()

	cancelled := ctx.Err() != nil
	report.Incomplete = cancelled || len(report.Hosts) < len(slots)
	if cancelled {
		report.Status = StateCancelled
		e.setState(StateCancelled)
	} else {
		report.Status = StateDone
		e.setState(StateDone)
	}
	close(e.updates)

	log.Info("sweep finished",
		"status", report.Status,
		"hosts", len(report.Hosts),
		"live", len(report.LiveHosts()),
		"open_ports", report.OpenPortCount(),
		"errors", len(report.Errors),
		"duration", report.FinishedAt.Sub(report.StartedAt))

	return report, nil
}

// probeAndScan runs the reachability probe for one candidate and, when the
// host is live, fans out one scan task per configured port under the shared
// gate.
func (e *Engine) probeAndScan(ctx context.Context, slot *hostSlot, probeWG, portWG *sync.WaitGroup) {
	defer probeWG.Done()

	if err := e.gate.Acquire(ctx); err != nil {
		return
	}
	res := e.prober.Probe(ctx, slot.candidate.Address, e.cfg.ProbeTimeout)
	e.gate.Release()

	slot.result = HostResult{
		Address: slot.candidate.Address,
		Spec:    slot.candidate.Spec,
		Live:    res.Live,
		Latency: res.Latency,
	}

	if !res.Live {
		slot.complete.Store(true)
		e.emit(slot.result)
		return
	}
	e.logger.InfoProbe("host is live", slot.candidate.Address, "latency", res.Latency)

	slot.portResults = make([]portscan.PortResult, len(e.cfg.Ports))
	slot.remaining = int64(len(e.cfg.Ports))
	slot.result.PortsScanned = len(e.cfg.Ports)

	for i, port := range e.cfg.Ports {
		portWG.Add(1)
		go e.scanOnePort(ctx, slot, i, port, portWG)
	}
}

// scanOnePort scans a single port and, as the last finisher for its host,
// assembles the host's ordered result.
func (e *Engine) scanOnePort(ctx context.Context, slot *hostSlot, idx, port int, portWG *sync.WaitGroup) {
	defer portWG.Done()

	if err := e.gate.Acquire(ctx); err != nil {
		// Admission refused by cancellation: the host's port set is no
		// longer fully covered, so the slot stays incomplete.
		atomic.AddInt64(&slot.remaining, -1)
		return
	}
	result := e.scanner.ScanPort(ctx, slot.candidate.Address, port)
	e.gate.Release()

	slot.portResults[idx] = result

	if atomic.AddInt64(&slot.remaining, -1) == 0 && ctx.Err() == nil {
		e.finalizeHost(slot)
	}
}

// finalizeHost sorts the host's open ports ascending and publishes the
// completed result. Runs exactly once per live host, in whichever port task
// finished last.
func (e *Engine) finalizeHost(slot *hostSlot) {
	open := make([]portscan.PortResult, 0, len(slot.portResults))
	for _, pr := range slot.portResults {
		if pr.State == portscan.StateOpen {
			open = append(open, pr)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Port < open[j].Port })

	slot.result.OpenPorts = open
	slot.complete.Store(true)
	e.logger.InfoScan("host scan complete", slot.result.Address,
		"open_ports", len(open), "ports_scanned", slot.result.PortsScanned)
	e.emit(slot.result)
}

// emit delivers a host update without ever blocking the sweep.
func (e *Engine) emit(h HostResult) {
	select {
	case e.updates <- h:
	default:
	}
}

func toScanError(targetSpec string, err error) ScanError {
	se := ScanError{
		Target:  targetSpec,
		Kind:    errors.GetCode(err),
		Message: err.Error(),
	}
	if scanErr, ok := errors.AsScanError(err); ok {
		se.Port = scanErr.Port
	}
	return se
}

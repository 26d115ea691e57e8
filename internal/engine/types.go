package engine

import (
	"time"

	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/portscan"
)

// State tracks a sweep's progress through its lifecycle.
type State string

const (
	StatePending       State = "pending"
	StateEnumerating   State = "enumerating"
	StateProbing       State = "probing"
	StateScanningPorts State = "scanning_ports"
	StateAggregating   State = "aggregating"
	StateDone          State = "done"
	StateCancelled     State = "cancelled"
)

// terminal reports whether no further transition is allowed.
func (s State) terminal() bool {
	return s == StateDone || s == StateCancelled
}

// HostResult is the complete outcome for one candidate address. It is
// written by exactly one task and becomes immutable once reported.
type HostResult struct {
	// Address is the concrete IP that was probed.
	Address string `json:"address"`
	// Spec is the target specification the address came from.
	Spec string `json:"spec"`
	// Live reports whether any reachability probe succeeded.
	Live bool `json:"live"`
	// Latency is the reachability probe round-trip time for live hosts.
	Latency time.Duration `json:"latency,omitempty"`
	// OpenPorts lists the open ports in ascending port order.
	OpenPorts []portscan.PortResult `json:"open_ports,omitempty"`
	// PortsScanned counts how many ports were checked on this host.
	PortsScanned int `json:"ports_scanned"`
}

// ScanError records a per-target failure that did not abort the sweep.
type ScanError struct {
	Target  string           `json:"target"`
	Port    int              `json:"port,omitempty"`
	Kind    errors.ErrorCode `json:"kind"`
	Message string           `json:"message"`
}

// ScanReport is the final aggregated result of one sweep. Host order follows
// candidate production order, not completion order, so identical inputs give
// identical reports.
type ScanReport struct {
	RunID      string       `json:"run_id"`
	Targets    []string     `json:"targets"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Hosts      []HostResult `json:"hosts"`
	Errors     []ScanError  `json:"errors,omitempty"`
	Status     State        `json:"status"`

	// Truncated is set when enumeration stopped at the candidate cap.
	Truncated bool `json:"truncated,omitempty"`
	// Incomplete is set when cancellation or the sweep deadline cut the
	// run short; Hosts then holds only the fully assembled results.
	Incomplete bool `json:"incomplete,omitempty"`
}

// LiveHosts returns the subset of hosts that answered a probe.
func (r *ScanReport) LiveHosts() []HostResult {
	var live []HostResult
	for _, h := range r.Hosts {
		if h.Live {
			live = append(live, h)
		}
	}
	return live
}

// OpenPortCount returns the total number of open ports across all hosts.
func (r *ScanReport) OpenPortCount() int {
	n := 0
	for _, h := range r.Hosts {
		n += len(h.OpenPorts)
	}
	return n
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netsweep/netsweep/internal/config"
	"github.com/netsweep/netsweep/internal/engine"
	"github.com/netsweep/netsweep/internal/logging"
	"github.com/netsweep/netsweep/internal/service"
)

var (
	scanTargets       string
	scanPorts         string
	scanConcurrency   int
	scanRate          float64
	scanProbeMethod   string
	scanProbeTimeout  time.Duration
	scanTimeout       time.Duration
	scanBannerWait    time.Duration
	scanRetries       int
	scanMaxCandidates int
	scanDeadline      time.Duration
	scanJSON          bool
	scanOutput        string
	scanShowProgress  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sweep targets for live hosts and open ports",
	Long: `Sweep one or more targets for live hosts, scan the configured port set on
each live host, and report open ports with a service guess.

Targets may be single addresses, CIDR blocks, or hostnames. Ports accept
comma-separated values and ranges. The sweep runs under a global concurrency
cap and rate limit so load stays bounded regardless of target size.`,
	Example: `  netsweep scan --targets 192.168.1.0/24
  netsweep scan --targets "192.168.1.10,fileserver.local" --ports "22,80,443"
  netsweep scan --targets 10.0.0.0/16 --ports 1-1024 --rate 100 --concurrency 64
  netsweep scan --targets 192.168.1.1 --json --output report.json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanTargets, "targets", "", "comma-separated targets: address, CIDR, or hostname")
	scanCmd.Flags().StringVar(&scanPorts, "ports", "", "ports to scan, e.g. '22,80,443' or '1-1024' (default: well-known ports)")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "max in-flight operations")
	scanCmd.Flags().Float64Var(&scanRate, "rate", 0, "max operation starts per second")
	scanCmd.Flags().StringVar(&scanProbeMethod, "probe-method", "", "reachability check: tcp or icmp")
	scanCmd.Flags().DurationVar(&scanProbeTimeout, "probe-timeout", 0, "timeout per reachability probe")
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 0, "timeout per port connection attempt")
	scanCmd.Flags().DurationVar(&scanBannerWait, "banner-timeout", 0, "timeout for the banner read on open ports")
	scanCmd.Flags().IntVar(&scanRetries, "retries", -1, "max retries for transient resource errors")
	scanCmd.Flags().IntVar(&scanMaxCandidates, "max-candidates", 0, "cap on enumerated candidate addresses")
	scanCmd.Flags().DurationVar(&scanDeadline, "deadline", 0, "overall sweep deadline (0 = none)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "emit the report as JSON")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "write the report to a file instead of stdout")
	scanCmd.Flags().BoolVar(&scanShowProgress, "progress", false, "print each host result as it completes")

	if err := scanCmd.MarkFlagRequired("targets"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	cfg, err := buildScanConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, logging.Default())
	if err != nil {
		return err
	}

	// First interrupt cancels the sweep gracefully; the partial report is
	// still rendered. A second interrupt kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for host := range eng.Updates() {
			if scanShowProgress && !scanJSON {
				printHostProgress(host)
			}
		}
	}()

	report, err := eng.Run(ctx)
	if err != nil {
		return err
	}
	<-progressDone

	return renderReport(report, scanJSON, scanOutput)
}

// buildScanConfig layers command-line flags over the config file and
// defaults, then validates the result.
func buildScanConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "netsweep.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	cfg.Targets = splitList(scanTargets)

	if scanPorts != "" {
		ports, err := parsePortSpec(scanPorts)
		if err != nil {
			return nil, err
		}
		cfg.Ports = ports
	} else if len(cfg.Ports) == 0 {
		cfg.Ports = service.WellKnownPorts()
	}

	if scanConcurrency > 0 {
		cfg.MaxConcurrency = scanConcurrency
	}
	if scanRate > 0 {
		cfg.MaxRate = scanRate
	}
	if scanProbeMethod != "" {
		cfg.ProbeMethod = scanProbeMethod
	}
	if scanProbeTimeout > 0 {
		cfg.ProbeTimeout = scanProbeTimeout
	}
	if scanTimeout > 0 {
		cfg.ScanTimeout = scanTimeout
	}
	if scanBannerWait > 0 {
		cfg.BannerTimeout = scanBannerWait
	}
	if scanRetries >= 0 {
		cfg.MaxRetries = scanRetries
	}
	if scanMaxCandidates > 0 {
		cfg.MaxCandidates = scanMaxCandidates
	}
	if scanDeadline > 0 {
		cfg.ScanDeadline = scanDeadline
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePortSpec parses comma-separated ports and inclusive ranges, e.g.
// "22,80,8000-8010". Duplicates collapse and the result is ascending.
func parsePortSpec(spec string) ([]int, error) {
	seen := make(map[int]struct{})

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parsePort(lo)
			if err != nil {
				return nil, err
			}
			end, err := parsePort(hi)
			if err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("invalid port range %q: end before start", part)
			}
			for p := start; p <= end; p++ {
				seen[p] = struct{}{}
			}
			continue
		}

		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		seen[p] = struct{}{}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("empty port specification %q", spec)
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/netsweep/netsweep/internal/engine"
)

const outputFilePerm = 0600

// renderReport writes the final report as a table or JSON, to stdout or to
// the requested file.
func renderReport(report *engine.ScanReport, asJSON bool, outputPath string) error {
	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputFilePerm)
		if err != nil {
			return fmt.Errorf("failed to open output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return renderTable(w, report)
}

func renderTable(w io.Writer, report *engine.ScanReport) error {
	fmt.Fprintf(w, "Sweep %s: %d hosts, %d live, %d open ports",
		report.RunID, len(report.Hosts), len(report.LiveHosts()), report.OpenPortCount())
	fmt.Fprintf(w, " (%s)\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.Truncated {
		fmt.Fprintln(w, "Note: enumeration truncated at the candidate cap")
	}
	if report.Incomplete {
		fmt.Fprintln(w, "Note: sweep cancelled before completion, results are partial")
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.Header("Host", "Status", "Latency", "Port", "State", "Service", "Banner")

	for i := range report.Hosts {
		host := &report.Hosts[i]

		status := "down"
		latency := "-"
		if host.Live {
			status = "live"
			latency = host.Latency.Round(time.Millisecond).String()
		}

		if len(host.OpenPorts) == 0 {
			_ = table.Append([]string{host.Address, status, latency, "-", "-", "-", "-"})
			continue
		}
		for j, pr := range host.OpenPorts {
			addr, st, lat := host.Address, status, latency
			if j > 0 {
				addr, st, lat = "", "", ""
			}
			svc := pr.ServiceGuess
			if svc == "" {
				svc = "unknown"
			}
			_ = table.Append([]string{
				addr, st, lat,
				strconv.Itoa(pr.Port),
				string(pr.State),
				svc,
				bannerPreview(pr.Banner),
			})
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(report.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  %s: [%s] %s\n", e.Target, e.Kind, e.Message)
		}
	}
	return nil
}

// bannerPreview renders the printable head of a banner for table output.
func bannerPreview(banner []byte) string {
	if len(banner) == 0 {
		return "-"
	}
	s := strings.TrimSpace(string(banner))
	s = strings.ReplaceAll(s, "\r", "")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxPreview = 40
	if len(s) > maxPreview {
		s = s[:maxPreview] + "..."
	}
	return s
}

// printHostProgress prints one completed host to stderr during the sweep.
func printHostProgress(host engine.HostResult) {
	if !host.Live {
		fmt.Fprintf(os.Stderr, "%-16s down\n", host.Address)
		return
	}
	ports := make([]string, 0, len(host.OpenPorts))
	for _, pr := range host.OpenPorts {
		ports = append(ports, strconv.Itoa(pr.Port))
	}
	fmt.Fprintf(os.Stderr, "%-16s live  open: %s\n", host.Address, strings.Join(ports, ","))
}

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/health"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/monitor"
)

// Status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cluster health and component reachability",
	Long: `Show the MDM's view of cluster health, then probe each registered
component directly: an HTTP check against its management endpoint
when one is advertised, a TCP dial against its control port
otherwise.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Duration("probe-timeout", 2*time.Second, "Per-component probe timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := adminClient(cmd)
	ctx := cmd.Context()
	timeout, _ := cmd.Flags().GetDuration("probe-timeout")

	summary, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach MDM: %v", err)
	}
	fmt.Printf("Cluster health: %s (score %d)\n", summary.Status, summary.HealthScore)
	fmt.Printf("  Components: %d active, %d inactive\n", summary.Components.Active, summary.Components.Inactive)
	for componentType, counts := range summary.ByType {
		fmt.Printf("    %s: %d/%d active\n", componentType, counts.Active, counts.Total)
	}
	fmt.Println()

	details, err := c.HealthComponents(ctx)
	if err != nil {
		return err
	}
	w := newTable()
	fmt.Fprintln(w, "COMPONENT\tTYPE\tADDRESS\tSTATUS\tHEARTBEAT\tREACHABLE")
	for _, d := range details {
		heartbeat := fmt.Sprintf("%.0fs ago", d.SecondsSinceHeartbeat)
		if d.IsStale {
			heartbeat += " (stale)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ComponentID, d.Type, d.Address, d.Status, heartbeat, probeComponent(ctx, d, timeout))
	}
	return w.Flush()
}

// probeComponent dials the component's management endpoint or control
// port and reports the outcome.
func probeComponent(ctx context.Context, d *mdm.ComponentDetail, timeout time.Duration) string {
	var checker health.Checker
	switch {
	case d.Address == "":
		return "-"
	case d.MgmtPort > 0:
		url := fmt.Sprintf("http://%s/healthz", net.JoinHostPort(d.Address, strconv.Itoa(d.MgmtPort)))
		checker = health.NewHTTPChecker(url).WithTimeout(timeout)
	case d.ControlPort > 0:
		checker = health.NewTCPChecker(net.JoinHostPort(d.Address, strconv.Itoa(d.ControlPort))).WithTimeout(timeout)
	default:
		return "-"
	}
	if checker.Check(ctx).Healthy {
		return "yes"
	}
	return "no"
}

// Monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously poll the MDM and report health, alerts and reachability",
	Long: `Poll the MDM's health, topology, pool and volume surfaces on an
interval, derive alerts from component state, probe each component
directly and print a summary every cycle.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().Duration("interval", config.DefaultMonitorPollInterval, "Poll interval")
	monitorCmd.Flags().Bool("once", false, "Poll once, print a summary and exit")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	base, _ := cmd.Flags().GetString("mdm")
	interval, _ := cmd.Flags().GetDuration("interval")
	once, _ := cmd.Flags().GetBool("once")

	m := monitor.New(&monitor.Config{
		MDMBaseURL:   base,
		PollInterval: interval,
	})

	if once {
		if err := m.Refresh(cmd.Context()); err != nil {
			return err
		}
		printMonitorSummary(m)
		return nil
	}

	m.Start()
	defer m.Stop()

	fmt.Printf("Monitoring %s every %s. Press Ctrl+C to stop.\n", base, interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping monitor...")
			return nil
		case <-ticker.C:
			printMonitorSummary(m)
		}
	}
}

func printMonitorSummary(m *monitor.Monitor) {
	fmt.Printf("--- %s ---\n", time.Now().Format(time.TimeOnly))

	if summary, ok := m.Health(); ok {
		fmt.Printf("health: %s (score %d), components %d/%d active\n",
			summary.Status, summary.HealthScore, summary.Components.Active, summary.Components.Total)
	} else {
		fmt.Println("health: no data")
	}

	if pools, ok := m.Pools(); ok {
		for _, p := range pools {
			line := fmt.Sprintf("pool %s: %s free of %s, %d volumes",
				p.Name, formatBytes(p.FreeBytes), formatBytes(p.TotalCapacityBytes), p.VolumeCount)
			if p.DegradedChunks > 0 || p.LostChunks > 0 {
				line += fmt.Sprintf(", %d degraded / %d lost chunks", p.DegradedChunks, p.LostChunks)
			}
			fmt.Println(line)
		}
	}

	for _, alert := range m.ActiveAlerts() {
		fmt.Printf("ALERT [%s] %s\n", alert.Severity, alert.Message)
	}

	for _, probe := range m.ProbeResults() {
		if !probe.Healthy {
			fmt.Printf("probe %s (%s): unreachable\n", probe.ComponentID, probe.Target)
		}
	}
}

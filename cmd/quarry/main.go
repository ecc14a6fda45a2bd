package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - software-defined block storage simulator",
	Long: `Quarry simulates a software-defined block storage cluster: a
metadata manager (MDM) owns placement, tokens and rebuild, SDS nodes
persist replicated chunks on their local filesystems, and SDC clients
execute reads and writes against the data plane.

One binary runs every role plus the admin tooling.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Quarry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("mdm", "http://127.0.0.1:8001", "MDM API base URL")

	metrics.SetVersion(Version)

	// Add subcommands
	rootCmd.AddCommand(mdmCmd)
	rootCmd.AddCommand(sdsCmd)
	rootCmd.AddCommand(sdcCmd)
	rootCmd.AddCommand(pdCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(eventsCmd)
}

// adminClient builds an API client from the persistent --mdm flag.
func adminClient(cmd *cobra.Command) *client.Client {
	base, _ := cmd.Flags().GetString("mdm")
	return client.New(base)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// parseSize accepts plain byte counts and binary-suffixed values such
// as 512MiB or 8GiB.
func parseSize(s string) (int64, error) {
	v := strings.TrimSpace(strings.ToUpper(s))
	mult := int64(1)
	for _, suffix := range []struct {
		name string
		mult int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30}, {"TIB", 1 << 40},
		{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}, {"TB", 1 << 40},
		{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30}, {"T", 1 << 40},
		{"B", 1},
	} {
		if strings.HasSuffix(v, suffix.name) {
			mult = suffix.mult
			v = strings.TrimSpace(strings.TrimSuffix(v, suffix.name))
			break
		}
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(n * float64(mult)), nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for u := n / unit; u >= unit; u /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

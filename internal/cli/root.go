package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/config"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "quotaledger",
	Short: "QuotaLedger - quota and budget admission control",
	Long: `QuotaLedger keeps a ledger of resource quotas and per-user budgets,
admits or denies capacity requests against it, and reconciles the
ledger with the authoritative usage reported by an external oracle.

Usage:
  quotaledger [command] [flags]

Available Commands:
  serve      Start the HTTP API and background reconciliation
  quota      Manage quota entries and run admission checks
  budget     Manage per-user budgets
  flavor     Manage flavor to group mappings
  reservation Inspect and settle reservations
  over       List entries whose consumption exceeds their limit
  sync       Run one reconciliation cycle now
  doctor     Diagnose configuration, store and oracle

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --db string       Path to SQLite database (overrides store.path)
  --verbose         Enable verbose output
  --json            Output in JSON format

Use "quotaledger [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = "config.yaml"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", os.Getenv(config.EnvDBPath), "Path to SQLite database (overrides store.path)")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of QuotaLedger",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := GetVersionInfo()
		if globalFlags.JSON {
			return writeJSON(cmd, info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "QuotaLedger Version:", info.Version)
		fmt.Fprintln(out, "Go Version:", info.GoVersion)
		fmt.Fprintln(out, "OS/Arch:", info.OS+"/"+info.Arch)
		fmt.Fprintln(out, "Build Date:", info.BuildDate)
		return nil
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// Version and BuildDate are set at link time.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// VersionInfo contains version information
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	BuildDate string `json:"build_date"`
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: BuildDate,
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

package cli

import (
	"context"
	"fmt"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/engine"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/oracle"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration, store and oracle",
	Long: `Perform a diagnostic of a QuotaLedger installation.

This command checks:
- Configuration loading and validation
- Ledger store connectivity and contents
- Usage oracle reachability
- Age of the last reconciliation

Example:
  quotaledger doctor --json`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp       time.Time     `json:"timestamp"`
	Checks          []DoctorCheck `json:"checks"`
	Recommendations []string      `json:"recommendations"`
}

// DoctorCheck represents a single diagnostic check
type DoctorCheck struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Severity    string `json:"severity,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// Check statuses.
const (
	statusOK   = "OK"
	statusWarn = "WARN"
	statusFail = "FAIL"
)

func runDoctor(cmd *cobra.Command, args []string) error {
	report := DoctorReport{Timestamp: time.Now().UTC()}
	report.Checks = append(report.Checks, DoctorCheck{
		Category: "System",
		Name:     "Runtime",
		Status:   statusOK,
		Message:  fmt.Sprintf("%s %s/%s, %d CPUs", runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
	})

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		report.Checks = append(report.Checks, DoctorCheck{
			Category:    "Configuration",
			Name:        "Config Load",
			Status:      statusFail,
			Message:     err.Error(),
			Severity:    "high",
			Remediation: "Check the file syntax or pass --config",
		})
	} else {
		report.Checks = append(report.Checks, checkConfiguration(cfg)...)
		report.Checks = append(report.Checks, checkOracle(cmd.Context(), cfg))
		report.Checks = append(report.Checks, checkLedger(cmd)...)
	}
	report.Recommendations = generateRecommendations(report.Checks)

	if globalFlags.JSON {
		return writeJSON(cmd, report)
	}
	return printDoctorReport(cmd, report)
}

func checkConfiguration(cfg *config.Config) []DoctorCheck {
	source := globalFlags.Config
	checks := []DoctorCheck{{
		Category: "Configuration",
		Name:     "Config Load",
		Status:   statusOK,
		Message:  fmt.Sprintf("Loaded %s (store %s, oracle %s)", source, cfg.Store.Driver, oracleMode(cfg)),
	}}

	if cfg.Reconcile.Enabled && cfg.Reconcile.GraceWindow < cfg.Reconcile.Interval/10 {
		checks = append(checks, DoctorCheck{
			Category:    "Configuration",
			Name:        "Grace Window",
			Status:      statusWarn,
			Message:     fmt.Sprintf("grace_window %s is short relative to interval %s", cfg.Reconcile.GraceWindow, cfg.Reconcile.Interval),
			Severity:    "low",
			Remediation: "Reservations newer than the oracle's lag may be discarded early",
		})
	}
	if cfg.API.Enabled && len(cfg.API.Auth.APIKeys) == 0 {
		checks = append(checks, DoctorCheck{
			Category:    "Configuration",
			Name:        "API Auth",
			Status:      statusWarn,
			Message:     "HTTP API accepts unauthenticated requests",
			Severity:    "medium",
			Remediation: "Set api.auth.api_keys",
		})
	}
	return checks
}

func checkOracle(ctx context.Context, cfg *config.Config) DoctorCheck {
	check := DoctorCheck{Category: "Oracle", Name: "Usage Oracle"}
	o, err := oracle.New(cfg.Oracle)
	if err != nil {
		check.Status, check.Message, check.Severity = statusFail, err.Error(), "high"
		return check
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	total, err := o.CurrentUsage(ctx, "", "")
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("%s oracle unreachable: %v", oracleMode(cfg), err)
		check.Severity = "high"
		check.Remediation = "Check oracle.base_url and network access"
		return check
	}
	check.Status = statusOK
	check.Message = fmt.Sprintf("%s oracle answered in %s (total usage %d)", oracleMode(cfg), time.Since(start).Round(time.Millisecond), total)
	return check
}

func checkLedger(cmd *cobra.Command) []DoctorCheck {
	var checks []DoctorCheck
	err := withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		if err := e.Health(ctx); err != nil {
			return err
		}
		quotas, err := e.ListQuota(ctx, models.QuotaFilter{All: true})
		if err != nil {
			return err
		}
		budgets, err := e.ListBudgets(ctx, "")
		if err != nil {
			return err
		}
		flavors, err := e.ListFlavors(ctx, "")
		if err != nil {
			return err
		}
		checks = append(checks, DoctorCheck{
			Category: "Store",
			Name:     "Ledger",
			Status:   statusOK,
			Message:  fmt.Sprintf("%d quotas, %d budgets, %d flavors", len(quotas), len(budgets), len(flavors)),
		})

		sync := DoctorCheck{Category: "Store", Name: "Last Reconciliation"}
		status := e.SyncState()
		switch {
		case status.LastReport == nil:
			sync.Status, sync.Message = statusWarn, "No reconciliation recorded"
			sync.Remediation = "Run quotaledger sync or start the server"
		case status.LastReport.Failed > 0:
			sync.Status = statusWarn
			sync.Message = fmt.Sprintf("%d of %d pairs failed at %s", status.LastReport.Failed, status.LastReport.Pairs,
				status.LastReport.FinishedAt.Format(time.RFC3339))
		default:
			sync.Status = statusOK
			sync.Message = fmt.Sprintf("%d pairs at %s", status.LastReport.Pairs, status.LastReport.FinishedAt.Format(time.RFC3339))
		}
		checks = append(checks, sync)
		return nil
	})
	if err != nil {
		checks = append(checks, DoctorCheck{
			Category:    "Store",
			Name:        "Ledger",
			Status:      statusFail,
			Message:     err.Error(),
			Severity:    "high",
			Remediation: "Check store.driver, store.path or store.dsn",
		})
	}
	return checks
}

func oracleMode(cfg *config.Config) string {
	if cfg.Oracle.Mode == "" {
		return config.OracleStatic
	}
	return cfg.Oracle.Mode
}

func generateRecommendations(checks []DoctorCheck) []string {
	recommendations := []string{}

	failCount := 0
	warnCount := 0
	for _, check := range checks {
		switch check.Status {
		case statusFail:
			failCount++
			if check.Remediation != "" {
				recommendations = append(recommendations, fmt.Sprintf("[%s] %s: %s", check.Category, check.Name, check.Remediation))
			}
		case statusWarn:
			warnCount++
		}
	}

	if failCount == 0 && warnCount == 0 {
		recommendations = append(recommendations, "System is healthy. No recommendations needed.")
	} else if failCount > 0 {
		recommendations = append(recommendations, fmt.Sprintf("Found %d critical issue(s) and %d warning(s). Please address the critical issues first.", failCount, warnCount))
	}
	return recommendations
}

func printDoctorReport(cmd *cobra.Command, report DoctorReport) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== QuotaLedger Doctor Report ===")
	fmt.Fprintf(out, "Generated: %s\n\n", report.Timestamp.Format(time.RFC3339))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, check := range report.Checks {
		icon := "✓"
		switch check.Status {
		case statusFail:
			icon = "✗"
		case statusWarn:
			icon = "!"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", icon, check.Category, check.Name, check.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Recommendations ---")
	for _, rec := range report.Recommendations {
		fmt.Fprintf(out, "• %s\n", rec)
	}
	return nil
}

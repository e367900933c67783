package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/kubilitics/shipctl/internal/terminal"
	"github.com/kubilitics/shipctl/internal/transaction"
)

var (
	statusOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	statusBadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")) // red
	statusWaitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")) // yellow
)

// styledStatus colors a terminal status/state label, or returns it
// plain when colors are disabled (SHIPCTL_NO_COLOR, NO_COLOR, or a
// non-Windows-Terminal Windows shell).
func styledStatus(s string) string {
	if terminal.ColorDisabled() {
		return s
	}
	switch transaction.Status(s) {
	case transaction.StatusCompleted:
		return statusOKStyle.Render(s)
	case transaction.StatusFailed, transaction.StatusCancelled:
		return statusBadStyle.Render(s)
	default:
		return statusWaitStyle.Render(s)
	}
}

// firstActionableError returns the first per-platform error message in
// target order, so failure output points at the specific adapter call
// that broke rather than a generic "deploy failed".
func firstActionableError(dep *transaction.Deployment) string {
	for _, name := range dep.Targets {
		if st, ok := dep.Platforms[name]; ok && st.ErrorMessage != "" {
			return fmt.Sprintf("%s: %s", name, st.ErrorMessage)
		}
	}
	return ""
}

func printDeploymentSummary(out io.Writer, dep *transaction.Deployment, logPath string) {
	fmt.Fprintf(out, "transaction %s: %s\n", dep.ID, styledStatus(string(dep.Status)))
	for _, name := range dep.Targets {
		st := dep.Platforms[name]
		fmt.Fprintf(out, "  %-16s %s\n", name, styledStatus(string(st.State)))
	}
	if dep.Status != transaction.StatusCompleted {
		if msg := firstActionableError(dep); msg != "" {
			fmt.Fprintf(out, "error: %s\n", msg)
		}
		if dep.RollbackTransactionID != "" {
			fmt.Fprintf(out, "rollback transaction: %s\n", dep.RollbackTransactionID)
		}
	}
	fmt.Fprintf(out, "full record: %s\n", logPath)
}

func printRollbackSummary(out io.Writer, r *transaction.Rollback) {
	fmt.Fprintf(out, "rollback %s (deployment %s): %s\n", r.ID, r.DeploymentID, styledStatus(string(r.Status)))
	for _, name := range r.Targets {
		st := r.Platforms[name]
		fmt.Fprintf(out, "  %-16s %s\n", name, styledStatus(string(st.State)))
	}
	if r.Status != transaction.StatusCompleted {
		for _, name := range r.Targets {
			if st, ok := r.Platforms[name]; ok && st.ErrorMessage != "" {
				fmt.Fprintf(out, "error: %s: %s\n", name, st.ErrorMessage)
				break
			}
		}
	}
}

func printHistory(out io.Writer, deployments []*transaction.Deployment) {
	sort.SliceStable(deployments, func(i, j int) bool { return deployments[i].StartedAt.After(deployments[j].StartedAt) })
	for _, d := range deployments {
		fmt.Fprintf(out, "%s  %-24s %-10s %-19s %s\n", d.ID, d.Package+"@"+d.Version, d.Pipeline, styledStatus(string(d.Status)), formatTimestamp(d.StartedAt))
	}
}

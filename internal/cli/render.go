package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// renderReport prints a run report. It only ever sees key names, change
// kinds and hashes.
func renderReport(w io.Writer, rep *report.Report) {
	fmt.Fprintf(w, "%s %s", rep.Operation, rep.Scope)
	if rep.Target != "" {
		fmt.Fprintf(w, " (target %s, provider %s, %s)", rep.Target, rep.Provider, rep.Transport)
	}
	fmt.Fprintln(w)

	for _, warning := range rep.Warnings {
		fmt.Fprintf(w, "%s %s\n", ui.Paint("warning:", text.FgYellow), warning)
	}
	if rep.Diff != nil {
		renderDiff(w, *rep.Diff)
	}
	if len(rep.Advisories) > 0 {
		renderAdvisories(w, "Advisories (not applied)", rep.Advisories)
	}
	if rep.Execution != nil && len(rep.Execution.Hosts) > 0 {
		t := ui.NewTable(w, "Host", "Status", "Duration", "Error")
		for _, h := range rep.Execution.Hosts {
			t.AppendRow(table.Row{h.Host, string(h.Status), h.Duration.Round(time.Millisecond).String(), h.Error})
		}
		t.Render()
	}
	if v := rep.Verification; v != nil {
		if v.Passed() {
			fmt.Fprintf(w, "Verification: %s\n", ui.Paint("pass", text.FgGreen))
		} else {
			fmt.Fprintf(w, "Verification: %s\n", ui.Paint("fail", text.FgRed))
			t := ui.NewTable(w, "Key", "Mismatch")
			for _, c := range v.Mismatches {
				t.AppendRow(table.Row{c.Key, string(c.Kind)})
			}
			t.Render()
		}
		if len(v.Advisories) > 0 {
			renderAdvisories(w, "Verification advisories", v.Advisories)
		}
	}

	fmt.Fprintf(w, "Status: %s\n", statusText(rep.Status))
	if rep.Evidence != "" {
		fmt.Fprintf(w, "Evidence: %s\n", rep.Evidence)
	}
}

func renderDiff(w io.Writer, d envstate.Diff) {
	pending := d.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}

	t := ui.NewTable(w, "Key", "Change", "Risk", "Notes")
	for _, c := range pending {
		var notes []string
		if c.Secret {
			notes = append(notes, "secret")
		}
		if c.IAM {
			notes = append(notes, "iam")
		}
		t.AppendRow(table.Row{c.Key, changeText(c.Kind), riskText(c.Risk), strings.Join(notes, ",")})
	}
	t.Render()

	counts := d.Counts()
	fmt.Fprintf(w, "%d to add, %d to change, %d to remove, %d unchanged\n",
		counts[envstate.Added], counts[envstate.Changed], counts[envstate.Removed], counts[envstate.Unchanged])
}

func renderAdvisories(w io.Writer, title string, advisories []envstate.Advisory) {
	fmt.Fprintln(w, title+":")
	t := ui.NewTable(w, "Key", "Change", "Reason")
	for _, a := range advisories {
		t.AppendRow(table.Row{a.Key, string(a.Kind), a.Reason})
	}
	t.Render()
}

func changeText(k envstate.ChangeKind) string {
	switch k {
	case envstate.Added:
		return ui.Paint("+ added", text.FgGreen)
	case envstate.Removed:
		return ui.Paint("- removed", text.FgRed)
	case envstate.Changed:
		return ui.Paint("~ changed", text.FgYellow)
	}
	return string(k)
}

func riskText(r envstate.Risk) string {
	if r == envstate.RiskHigh {
		return ui.Paint(string(r), text.FgRed)
	}
	return string(r)
}

func statusText(s report.Status) string {
	switch s {
	case report.StatusOK:
		return ui.Paint(string(s), text.FgGreen)
	case report.StatusNoop:
		return ui.Paint(string(s), text.FgCyan)
	case report.StatusDrifted:
		return ui.Paint(string(s), text.FgYellow)
	case report.StatusFailed:
		return ui.Paint(string(s), text.FgRed)
	}
	return string(s)
}

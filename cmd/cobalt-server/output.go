package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/screening"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/sandbox"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	faintColor   = color.New(color.Faint)
	crisisColor  = color.New(color.FgRed, color.Bold)
	okColor      = color.New(color.FgGreen)
	pendingColor = color.New(color.FgYellow)
)

func printCatalog(w io.Writer, c *screening.Catalog) {
	for _, inst := range c.Instruments() {
		headingColor.Fprintf(w, "%s", inst.Name)
		fmt.Fprintf(w, " %s (%s)", inst.ID, inst.URLName)
		if inst.Threshold != nil {
			fmt.Fprintf(w, " threshold %d", *inst.Threshold)
		}
		fmt.Fprintln(w)

		for _, co := range inst.CarryOver {
			faintColor.Fprintf(w, "  carries %s into slot %d\n", co.QuestionCode, co.Slot)
		}
		for _, q := range inst.Questions {
			fmt.Fprintf(w, "  %d. [%s] %s\n", q.DisplayOrder, q.Code, q.Text)
			opts := make([]string, 0, len(q.Answers))
			for _, a := range q.Answers {
				opt := fmt.Sprintf("%s=%d", a.Label, a.Points)
				if a.Crisis {
					opt = crisisColor.Sprint(opt + " (crisis)")
				}
				opts = append(opts, opt)
			}
			faintColor.Fprint(w, "     ")
			fmt.Fprintln(w, strings.Join(opts, ", "))
		}
	}
}

func printResult(w io.Writer, r *screening.CascadeResult) {
	headingColor.Fprintf(w, "Account %s\n", r.AccountID)
	fmt.Fprintf(w, "State: %s\n", r.State)
	fmt.Fprint(w, "Recommendation: ")
	okColor.Fprintln(w, r.Recommendation)
	if r.Crisis {
		crisisColor.Fprintln(w, "CRISIS: crisis contacts are notified when the cascade is finished")
	}

	printInstrumentResult(w, &r.Screener)
	for _, ir := range r.DepthResults() {
		printInstrumentResult(w, ir)
	}
}

func printInstrumentResult(w io.Writer, ir *screening.InstrumentResult) {
	fmt.Fprintf(w, "  %-17s score %-3d answers %s", ir.Instrument, ir.Score, ir.AnswerSummary)
	if ir.Level != screening.LevelUnknown {
		fmt.Fprintf(w, " %s", ir.Level)
	}
	if ir.Crisis {
		crisisColor.Fprint(w, " crisis")
	}
	fmt.Fprintln(w)
}

func printOutstanding(w io.Writer, e *screening.NotResolvableError) {
	headingColor.Fprintf(w, "Account %s\n", e.AccountID)
	fmt.Fprintf(w, "State: %s\n", e.State)
	pendingColor.Fprint(w, "Not resolvable yet.")
	if len(e.Outstanding) > 0 {
		ids := make([]string, len(e.Outstanding))
		for i, id := range e.Outstanding {
			ids[i] = string(id)
		}
		fmt.Fprintf(w, " Outstanding: %s", strings.Join(ids, ", "))
	}
	fmt.Fprintln(w)
}

func printProgress(w io.Writer, p *screening.CascadeProgress) {
	headingColor.Fprintf(w, "Account %s\n", p.AccountID)
	fmt.Fprintf(w, "State: %s\n", p.State)
	if next, ok := p.Next(); ok {
		pendingColor.Fprintf(w, "Next: %s\n", next)
	}
	if p.Resolvable {
		okColor.Fprintln(w, "Ready to resolve.")
	}
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := pendingColor.Sprintf("%-10s", "pending")
		appliedAt := ""
		if s.Applied {
			status = okColor.Sprintf("%-10s", "applied")
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func printSeedResult(w io.Writer, r *sandbox.SeedResult) {
	headingColor.Fprintf(w, "Institution %s\n", r.Institution.Name)
	fmt.Fprintf(w, "  id %s\n", r.Institution.ID)
	fmt.Fprintf(w, "Crisis contacts: %d\n", len(r.Contacts))
	for _, c := range r.Contacts {
		fmt.Fprintf(w, "  %s %s\n", c.ID, c.Name)
	}
	fmt.Fprintf(w, "Accounts: %d\n", len(r.Accounts))
	for _, a := range r.Accounts {
		name := "(anonymous)"
		if a.DisplayName != nil {
			name = *a.DisplayName
		}
		fmt.Fprintf(w, "  %s %s\n", a.ID, name)
	}
}

package orchestrator

import (
	"fmt"
	"io"
	"time"
)

// WriteReport renders one line per outcome followed by a totals line and
// the error of every failed module
func WriteReport(w io.Writer, outcomes []RunOutcome) error {
	const row = "%-16s %-10s %9v %8v %8v %9v %7v  %s\n"

	if _, err := fmt.Fprintf(w, row, "MODULE", "STATUS", "PROCESSED", "CREATED", "UPDATED", "UNCHANGED", "FAILED", "DURATION"); err != nil {
		return err
	}

	for _, out := range outcomes {
		s := out.Statistics
		_, err := fmt.Fprintf(w, row,
			out.Module.String(),
			out.Status.String(),
			s.Processed,
			s.Created,
			s.Updated,
			s.Unchanged(),
			s.Failed,
			out.Duration.Round(time.Millisecond),
		)
		if err != nil {
			return err
		}
	}

	succeeded, failed, skipped := Count(outcomes)
	if _, err := fmt.Fprintf(w, "\n%d modules: %d succeeded, %d failed, %d skipped\n",
		len(outcomes), succeeded, failed, skipped); err != nil {
		return err
	}

	for _, out := range outcomes {
		if out.Status != StatusFailed || out.Err == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "  %s: %v\n", out.Module, out.Err); err != nil {
			return err
		}
	}

	return nil
}

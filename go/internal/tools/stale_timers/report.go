package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mcdev12/tempo/go/internal/timer"
)

type reportEntry struct {
	UserID         string
	TaskName       string
	Origin         string
	IdleFor        time.Duration
	ElapsedSeconds int64
}

// buildReport reconciles each record at now, the way a reloading client
// would, and records how long the row has gone without a sync.
func buildReport(recs []timer.Record, now time.Time) []reportEntry {
	out := make([]reportEntry, 0, len(recs))
	for i := range recs {
		rec := recs[i]
		e := reportEntry{
			UserID:         rec.UserID.String(),
			TaskName:       rec.TaskName,
			Origin:         rec.Origin,
			ElapsedSeconds: timer.Reconcile(&rec, now).Accumulated,
		}
		if rec.LastSyncedAt != nil {
			e.IdleFor = now.Sub(*rec.LastSyncedAt).Truncate(time.Second)
		}
		out = append(out, e)
	}
	return out
}

func writeReport(w io.Writer, entries []reportEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTASK\tORIGIN\tIDLE\tELAPSED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.UserID, e.TaskName, e.Origin, e.IdleFor, time.Duration(e.ElapsedSeconds)*time.Second)
	}
	return tw.Flush()
}

// Command stale_timers lists running timers whose last sync is older than
// a threshold, with the elapsed time a client would reconcile to now.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/tempo/go/internal/dbconfig"
	"github.com/mcdev12/tempo/go/internal/timer"
)

const staleTimersSQL = `
    SELECT user_id, state, time, start_time, COALESCE(task_name, ''), COALESCE(origin, ''), last_synced
    FROM active_timers
    WHERE state = 'running' AND last_synced < $1
    ORDER BY last_synced
`

func main() {
	olderThan := flag.Duration("older-than", time.Hour, "report running timers not synced for this long")
	flag.Parse()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	now := time.Now().UTC()
	recs, err := loadStale(context.Background(), pool, now.Add(-*olderThan))
	if err != nil {
		fmt.Fprintf(os.Stderr, "query stale timers: %v\n", err)
		os.Exit(1)
	}

	entries := buildReport(recs, now)
	if err := writeReport(os.Stdout, entries); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Stale timer report complete: %d running timers idle for more than %s\n", len(entries), *olderThan)
}

func loadStale(ctx context.Context, pool *pgxpool.Pool, cutoff time.Time) ([]timer.Record, error) {
	rows, err := pool.Query(ctx, staleTimersSQL, cutoff)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (timer.Record, error) {
		var (
			rec    timer.Record
			status string
		)
		err := row.Scan(&rec.UserID, &status, &rec.AccumulatedSeconds, &rec.RunStartedAt, &rec.TaskName, &rec.Origin, &rec.LastSyncedAt)
		rec.Status = timer.Status(status)
		return rec, err
	})
}

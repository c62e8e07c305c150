package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/store"
	"github.com/xraph/unmark/task"
)

// errUsage marks a bad command line; main exits 2 on it.
var errUsage = errors.New("usage")

const usage = `usage: unmarkd [-config file] [command]

commands:
  serve                 run the worker (default)
  status                task, job and dead letter counts
  jobs [-state running] [-queue watermark] [-limit 20] [-offset 0]
  dlq list [-task id] [-open] [-limit 50]
  dlq replay (-task id | entry-id)
  dlq purge [-older-than 720h]
  ledger -user id`

// admin runs one operator command against s and writes a table to out.
type admin struct {
	s   store.Store
	dlq *dlq.Service
	out io.Writer
}

func newAdmin(s store.Store, out io.Writer) *admin {
	return &admin{s: s, dlq: dlq.NewService(s, s), out: out}
}

func (a *admin) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "status":
		return a.status(ctx)
	case "jobs":
		return a.jobs(ctx, args)
	case "dlq":
		if len(args) == 0 {
			return fmt.Errorf("%w: dlq needs list, replay or purge", errUsage)
		}
		switch args[0] {
		case "list":
			return a.dlqList(ctx, args[1:])
		case "replay":
			return a.dlqReplay(ctx, args[1:])
		case "purge":
			return a.dlqPurge(ctx, args[1:])
		}
		return fmt.Errorf("%w: unknown dlq command %q", errUsage, args[0])
	case "ledger":
		return a.ledger(ctx, args)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func (a *admin) status(ctx context.Context) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSTATE\tCOUNT")

	for _, st := range []task.Status{task.StatusPending, task.StatusProcessing, task.StatusCompleted, task.StatusFailed} {
		n, err := a.s.CountTasks(ctx, st)
		if err != nil {
			return fmt.Errorf("count tasks %s: %w", st, err)
		}
		fmt.Fprintf(tw, "task\t%s\t%d\n", st, n)
	}
	for _, st := range []job.State{job.StatePending, job.StateRunning, job.StateRetrying, job.StateCompleted, job.StateFailed} {
		n, err := a.s.CountJobs(ctx, job.CountOpts{State: st})
		if err != nil {
			return fmt.Errorf("count jobs %s: %w", st, err)
		}
		fmt.Fprintf(tw, "job\t%s\t%d\n", st, n)
	}

	total, err := a.dlq.Count(ctx)
	if err != nil {
		return fmt.Errorf("count dlq: %w", err)
	}
	open, err := a.dlq.List(ctx, dlq.ListOpts{Open: true})
	if err != nil {
		return fmt.Errorf("list dlq: %w", err)
	}
	fmt.Fprintf(tw, "dlq\topen\t%d\n", len(open))
	fmt.Fprintf(tw, "dlq\treplayed\t%d\n", total-int64(len(open)))
	return tw.Flush()
}

func (a *admin) jobs(ctx context.Context, args []string) error {
	fs := newFlagSet("jobs")
	state := fs.String("state", string(job.StateRunning), "job state")
	q := fs.String("queue", "", "queue name, empty for all")
	limit := fs.Int("limit", 20, "maximum rows")
	offset := fs.Int("offset", 0, "rows to skip")
	if err := parse(fs, args); err != nil {
		return err
	}

	jobs, err := a.s.ListJobsByState(ctx, job.State(*state), job.ListOpts{Queue: *q, Limit: *limit, Offset: *offset})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTASK\tSTATE\tATTEMPTS\tRUN_AT\tLAST_ERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.Key, j.State, j.Attempts, j.MaxAttempts, j.RunAt.Format(time.RFC3339), j.LastError)
	}
	return tw.Flush()
}

func (a *admin) dlqList(ctx context.Context, args []string) error {
	fs := newFlagSet("dlq list")
	taskID := fs.String("task", "", "only entries for this task")
	open := fs.Bool("open", false, "hide replayed entries")
	limit := fs.Int("limit", 50, "maximum rows")
	if err := parse(fs, args); err != nil {
		return err
	}

	entries, err := a.dlq.List(ctx, dlq.ListOpts{TaskID: *taskID, Open: *open, Limit: *limit})
	if err != nil {
		return fmt.Errorf("list dlq: %w", err)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tTASK\tATTEMPTS\tFAILED_AT\tREPLAYED\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%t\t%s\n",
			e.ID, e.TaskID, e.Attempts, e.MaxAttempts, e.FailedAt.Format(time.RFC3339), e.Replayed(), e.Error)
	}
	return tw.Flush()
}

func (a *admin) dlqReplay(ctx context.Context, args []string) error {
	fs := newFlagSet("dlq replay")
	taskID := fs.String("task", "", "replay the newest open entry for this task")
	if err := parse(fs, args); err != nil {
		return err
	}

	var (
		j   *job.Job
		err error
	)
	switch {
	case *taskID != "" && fs.NArg() == 0:
		j, err = a.dlq.ReplayTask(ctx, *taskID)
	case *taskID == "" && fs.NArg() == 1:
		entryID, perr := id.ParseDLQID(fs.Arg(0))
		if perr != nil {
			return fmt.Errorf("%w: %w", errUsage, perr)
		}
		j, err = a.dlq.Replay(ctx, entryID)
	default:
		return fmt.Errorf("%w: dlq replay takes -task or one entry id", errUsage)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "replayed task %s as job %s\n", j.Key, j.ID)
	return nil
}

func (a *admin) dlqPurge(ctx context.Context, args []string) error {
	fs := newFlagSet("dlq purge")
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "delete entries that failed before this age")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *olderThan <= 0 {
		return fmt.Errorf("%w: -older-than must be positive", errUsage)
	}

	n, err := a.dlq.Purge(ctx, *olderThan)
	if err != nil {
		return fmt.Errorf("purge dlq: %w", err)
	}
	fmt.Fprintf(a.out, "purged %d entries\n", n)
	return nil
}

func (a *admin) ledger(ctx context.Context, args []string) error {
	fs := newFlagSet("ledger")
	userID := fs.String("user", "", "user id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("%w: ledger needs -user", errUsage)
	}

	balance, err := a.s.GetBalance(ctx, *userID)
	if err != nil && !errors.Is(err, unmark.ErrAccountNotFound) {
		return fmt.Errorf("balance: %w", err)
	}
	entries, err := a.s.ListLedger(ctx, *userID)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tKIND\tAMOUNT\tTASK\tAT\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Kind, signed(e.Amount), e.TaskID, e.CreatedAt.Format(time.RFC3339), e.Description)
	}
	fmt.Fprintf(tw, "\t\t\t\t\tbalance %d\n", balance)
	return tw.Flush()
}

func signed(n int64) string {
	if n > 0 {
		return "+" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// newFlagSet returns a FlagSet that reports errors instead of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %w", errUsage, fs.Name(), err)
	}
	return nil
}

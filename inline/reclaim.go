package inline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/unmark/task"
)

// DefaultStuckAfter is how long a PROCESSING task may go without an
// update before the sweep returns it to PENDING.
const DefaultStuckAfter = 5 * time.Minute

// ReclaimEmitter receives reclaim events. *ext.Registry satisfies it.
type ReclaimEmitter interface {
	EmitTaskReclaimed(ctx context.Context, taskID string)
}

// Reclaimer returns stuck PROCESSING tasks to PENDING.
type Reclaimer struct {
	tasks      task.Store
	stuckAfter time.Duration
	emitter    ReclaimEmitter
	logger     *slog.Logger
}

// NewReclaimer creates a Reclaimer. A nil emitter is allowed.
func NewReclaimer(tasks task.Store, stuckAfter time.Duration, emitter ReclaimEmitter, logger *slog.Logger) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	return &Reclaimer{tasks: tasks, stuckAfter: stuckAfter, emitter: emitter, logger: logger}
}

// Sweep resets every stuck task and returns how many it reset.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	ids, err := r.tasks.ReclaimStuck(ctx, r.stuckAfter, task.StuckMessage)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck tasks: %w", err)
	}
	for _, taskID := range ids {
		r.logger.Warn("reclaimed stuck task",
			slog.String("task_id", taskID),
			slog.Duration("stuck_after", r.stuckAfter),
		)
		if r.emitter != nil {
			r.emitter.EmitTaskReclaimed(ctx, taskID)
		}
	}
	return len(ids), nil
}

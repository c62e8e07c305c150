package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/id"
)

// PushDLQ writes the entry hash and indexes it by failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	rec := newDLQRecord(entry)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, dlqKey(rec.ID), rec.pairs()...)
		p.ZAdd(ctx, dlqIndexKey, goredis.Z{Score: float64(entry.FailedAt.UnixMilli()), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("unmark/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching opts, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("unmark/redis: dlq index: %w", err)
	}
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, entryID := range ids {
			cmds[i] = p.HGetAll(ctx, dlqKey(entryID))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("unmark/redis: load dlq: %w", err)
	}

	var entries []*dlq.Entry
	for i, cmd := range cmds {
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
		if len(cmd.Val()) == 0 {
			continue
		}
		e, err := decodeDLQ(cmd)
		if err != nil {
			s.logger.Warn("unmark/redis: skipping unreadable dlq entry", "entry_id", ids[i], "error", err)
			continue
		}
		if opts.Match(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	cmd := s.client.HGetAll(ctx, dlqKey(entryID.String()))
	if err := cmd.Err(); err != nil {
		return nil, fmt.Errorf("unmark/redis: get dlq: %w", err)
	}
	if len(cmd.Val()) == 0 {
		return nil, unmark.ErrDLQNotFound
	}
	return decodeDLQ(cmd)
}

// ReplayDLQ stamps replayed_at on an open entry. Only the first caller
// sets the field; later ones get ErrDLQReplayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	n, err := replayScript.Run(ctx, s.client,
		[]string{dlqKey(entryID.String())},
		stamp(time.Now()),
	).Int()
	switch {
	case err != nil:
		return fmt.Errorf("unmark/redis: replay dlq: %w", err)
	case n < 0:
		return unmark.ErrDLQNotFound
	case n == 0:
		return unmark.ErrDLQReplayed
	}
	return nil
}

// PurgeDLQ deletes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("unmark/redis: purge dlq range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, entryID := range ids {
			p.Del(ctx, dlqKey(entryID))
			p.ZRem(ctx, dlqIndexKey, entryID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unmark/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the size of the failure index.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("unmark/redis: count dlq: %w", err)
	}
	return n, nil
}

func decodeDLQ(cmd *goredis.MapStringStringCmd) (*dlq.Entry, error) {
	var rec dlqRecord
	if err := cmd.Scan(&rec); err != nil {
		return nil, fmt.Errorf("unmark/redis: decode dlq: %w", err)
	}
	return rec.entry()
}

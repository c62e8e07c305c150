// Package redis implements the queue-side stores (job.Store and
// dlq.Store) on Redis using go-redis/v9.
//
// Jobs are Hashes. Each queue has two Sorted Sets: a delayed set scored by
// run_at and a ready set scored by priority then run_at. Dequeue runs as
// one Lua script that promotes due jobs, pops the ready ones and counts
// the attempt, so two workers never receive the same job. A per-key
// string records which job holds a task key, and enqueue refuses a new
// job while that holder is still live.
//
// All keys share the {unmark} hash tag. A Redis Cluster therefore keeps
// the store on a single slot and a single primary; the scripts rely on
// that when they touch job hashes that are not passed in KEYS.
//
// Task rows and balances stay in Postgres; pair this store with
// store/postgres for the durable profile.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	q := redis.New(client)
//	if err := q.Ping(ctx); err != nil { ... }
package redis

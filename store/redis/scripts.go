package redis

import goredis "github.com/redis/go-redis/v9"

// enqueueScript stores a job and schedules it, refusing a duplicate ID or
// a Key still held by a live job.
//
// KEYS: job hash, job id set, delayed set, live-key string
// ARGV: id, score run_at (ms), has key ("1"/"0"), field/value pairs...
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
if ARGV[3] == '1' then
	local holder = redis.call('GET', KEYS[4])
	if holder then
		local st = redis.call('HGET', '` + jobPrefix + `' .. holder, 'state')
		if st == 'pending' or st == 'running' or st == 'retrying' then
			return 0
		end
	end
	redis.call('SET', KEYS[4], ARGV[1])
end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

// updateScript replaces a job's fields and reschedules it when it is
// pending or retrying.
//
// KEYS: job hash, ready set, delayed set
// ARGV: id, run_at (ms), schedule ("1"/"0"), field/value pairs...
var updateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
if ARGV[3] == '1' then
	redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
end
return 1
`)

// heartbeatScript stamps a live job's heartbeat without recreating a
// hash that has gone away.
//
// KEYS: job hash
// ARGV: now (RFC3339), worker id
var heartbeatScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[1], 'worker_id', ARGV[2], 'updated_at', ARGV[1])
return 1
`)

// replayScript stamps replayed_at on a DLQ entry unless it is already
// set. It returns -1 for a missing entry, 0 when already replayed.
//
// KEYS: dlq hash
// ARGV: now (RFC3339)
var replayScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HSETNX', KEYS[1], 'replayed_at', ARGV[1])
`)

// dequeueScript promotes due jobs from the delayed set into the ready set,
// pops up to limit ready jobs, marks them running and counts the attempt.
//
// KEYS: delayed set, ready set
// ARGV: now (ms), limit, now (RFC3339)
var dequeueScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
	local score = redis.call('HGET', '` + jobPrefix + `' .. id, 'score')
	redis.call('ZREM', KEYS[1], id)
	if score then
		redis.call('ZADD', KEYS[2], score, id)
	end
end
local popped = redis.call('ZPOPMIN', KEYS[2], ARGV[2])
local ids = {}
for i = 1, #popped, 2 do
	local id = popped[i]
	local key = '` + jobPrefix + `' .. id
	redis.call('HSET', key, 'state', 'running', 'started_at', ARGV[3], 'heartbeat_at', ARGV[3], 'updated_at', ARGV[3])
	redis.call('HINCRBY', key, 'attempts', 1)
	table.insert(ids, id)
end
return ids
`)

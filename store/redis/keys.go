package redis

// Every key carries the {unmark} hash tag, so a cluster maps the whole
// keyspace to one slot. The Lua scripts build job hash keys from ids they
// read at run time, which is only legal when those keys share the slot of
// the declared KEYS.
const keyPrefix = "{unmark}:"

// jobPrefix is the Hash key prefix for jobs, shared with the Lua scripts.
const jobPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: {unmark}:job:<id>
func jobKey(id string) string { return jobPrefix + id }

// readyKey returns the Sorted Set of runnable jobs: {unmark}:queue:<name>
func readyKey(queue string) string { return keyPrefix + "queue:" + queue }

// delayedKey returns the Sorted Set of jobs waiting for run_at:
// {unmark}:delayed:<name>
func delayedKey(queue string) string { return keyPrefix + "delayed:" + queue }

// liveKey maps a job Key to the job currently holding it.
func liveKey(key string) string { return keyPrefix + "jobkey:" + key }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// dlqKey returns the key for a DLQ entry entity: {unmark}:dlq:<id>
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set of DLQ entry IDs scored by failed_at.
const dlqIndexKey = keyPrefix + "dlq_idx"

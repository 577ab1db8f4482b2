package redis

// Redis key naming conventions for dispatch data.
// All keys are prefixed with "dispatch:" to avoid collisions.

const keyPrefix = "dispatch:"

// ── Job keys ──

// jobKey returns the key for a job entity: dispatch:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobsByUpdatedKey is the Sorted Set ordering job IDs by updated_at.
// Scores are unix milliseconds; listings re-sort exactly client-side.
const jobsByUpdatedKey = keyPrefix + "jobs_by_updated"

// ── Media keys ──

// mediaKey returns the key for an attachment record: dispatch:media:{id}
func mediaKey(id string) string { return keyPrefix + "media:" + id }

package engine

import "hash/fnv"

// hashPartition is the default partitioner: hash(key) mod workerCount.
// Also used to deterministically assign source partition keys to workers.
func hashPartition(key string, workerCount int) int {
	if workerCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(workerCount))
}

// assignPartitions splits partition keys across workerCount workers by
// hashPartition, so the same key always lands on the same worker across
// planning runs — required for state-cell locality (§5 "Shared
// resources": a key's partition is owned exclusively by one worker at a
// time).
func assignPartitions(keys []string, workerCount int) [][]string {
	out := make([][]string, workerCount)
	for _, k := range keys {
		w := hashPartition(k, workerCount)
		out[w] = append(out[w], k)
	}
	return out
}

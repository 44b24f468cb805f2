package redis

// Key layout. All keys live under one prefix so several schedulers can
// share a redis instance without colliding:
//
//	<prefix>:jobs       hash    job id -> encoded record
//	<prefix>:run_times  zset    job id scored by next run time (unix
//	                            milliseconds); paused jobs are absent
//
// The zset carries the ordering, the hash carries the state. Every
// mutation touches both inside one MULTI/EXEC so they can never
// disagree.
type keys struct {
	jobs     string
	runTimes string
}

func newKeys(prefix string) keys {
	return keys{
		jobs:     prefix + ":jobs",
		runTimes: prefix + ":run_times",
	}
}

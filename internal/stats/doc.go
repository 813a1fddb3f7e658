// Package stats keeps the rolling per-target statistics of a monitoring session.
//
// An [Aggregator] owns one [TargetState] per monitored URL. It is not safe for
// concurrent use: the scheduler is its only writer and records outcomes after
// each probe cycle has joined. Readers never touch the aggregator directly;
// they receive an immutable [Snapshot] built at the end of a cycle.
//
// Per target the aggregator tracks:
//
//   - the last known status (unknown, online, offline)
//   - total and successful check counters
//   - a running mean of latency over every check, successful or not
//   - the last 100 latencies and the last 100 failures (oldest evicted first)
package stats

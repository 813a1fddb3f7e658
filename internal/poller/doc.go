// Package poller runs the probe cycles of the monitoring engine.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper that performs one bounded-timeout probe
//   - [Scheduler]: session lifecycle, cycle loop and per-cycle fan-out/fan-in
//   - [Event]: status, cycle and error notifications emitted per cycle
//   - [ParseSchedule]: interval or cron expression to a cycle schedule
//
// Users of the pulsewatch library should not need to interact with this
// package directly. Configuration is done through the main pulsewatch package.
package poller

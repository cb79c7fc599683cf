// Package scheduler arms per-lane tick timers backed by durable deadline
// records, and registers cron-driven maintenance jobs. Execution is
// delegated to the task engine.
package scheduler

// Package store holds scheduled tasks ordered by the instant they are due.
//
// A Store is a sorted associative container: one description per instant,
// ascending iteration, conflict-checked inserts. It owns no timers; time-driven
// behavior lives in internal/executor.
package store

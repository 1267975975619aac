// Package executor fires task actions at the instant they are due.
//
// A Service owns one store.Store and one timerq.Worker:
//   - one-shot tasks live in the store and are removed after they fire
//   - recurring tasks exist only as armed timers and are never stored
//
// The worker is runtime-only state. Start builds a fresh worker and re-arms
// every stored task that is still in the future; past-due tasks stay in the
// store until the caller prunes them.
package executor

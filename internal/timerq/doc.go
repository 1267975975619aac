// Package timerq is a single-goroutine timer queue.
//
// All armed timers (one-shot and periodic) are delivered by one worker
// goroutine, so callbacks never run concurrently with each other. Pending
// timers are cancellable individually; Stop abandons everything that has not
// fired yet.
package timerq

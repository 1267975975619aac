// Package logx is the structured logger every tasktimer component writes to.
//
// A Logger is a small value wrapping zerolog. Loggers handed out by a Service
// follow its sinks and level across Service.Apply, so a config reload changes
// output for the whole process at once.
package logx

// Package persist saves and restores a task store.
//
// Only the ordered mapping instant -> description is ever written; timers are
// runtime state and are rebuilt on load by starting a fresh executor.
//
// Backends:
//   - "json", "yaml": a single snapshot file, replaced atomically (tmp + rename)
//   - "sqlite": a tasks table rewritten inside one transaction
package persist

// Package runcycle is a system-level test-execution engine: it runs
// externally-defined test cases, each of which spawns and supervises child
// OS processes, and aggregates pass/fail outcomes across repeated cycles.
//
// The engine schedules (test x cycle) work items over a bounded worker pool
// with deterministic dispatch order and per-cycle barriers, drives each test
// through a fixed setup, execute, validate, cleanup lifecycle, and owns the
// shared coordinators (process-launch lock, TCP port allocator, abort flag)
// the tests draw on.
package runcycle

// Package command implements a cooperative, single-threaded task scheduler with
// exclusive resource claims.
//
// A Task declares the Resources it requires. The Scheduler admits tasks, interrupts
// whichever running task holds a conflicting resource (unless that task refuses to be
// interrupted), steps every running task once per Tick, and ends tasks that report
// themselves finished. Composite tasks (Sequence, Parallel, Race, Deadline) step their
// own children; the scheduler only ever sees the top-level task.
//
// Per tick the scheduler:
//
//  1. calls the periodic hook of every registered resource,
//  2. polls the active event loop (conditions fire and may schedule or cancel tasks),
//  3. executes every task that was running when the tick began and ends finished ones,
//  4. admits tasks whose scheduling was requested while step 3 ran,
//  5. schedules default tasks for registered resources nobody claims.
//
// A Scheduler is not safe for concurrent use. Callers that schedule or cancel from
// other goroutines must hand the work to the goroutine that calls Tick.
package command

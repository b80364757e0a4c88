// Package task implements structured, cooperatively cancellable tasks.
//
// Every task runs on its own goroutine but only executes while it holds a
// turn on its executor (see executor.Acquire). At each suspension point
// (Await, Sleep, Yield, WaitFor, Group.Next, entering an actor) the task
// gives its turn back and takes a new one on the same executor when it
// resumes. A serial executor therefore never runs two tasks at once, and a
// concurrent executor bounds how many run in parallel.
//
// The executor a piece of code is running on travels explicitly in its
// context.Context. RunOn uses that token to decide between running inline
// (already on the target executor) and hopping.
//
// Structure:
//   - a task spawned WithParent is a child: cancelling the parent cancels it
//     in the same call, and the parent is not terminal until it is
//   - WithGroup and WithDiscardingGroup scope a set of children and join
//     them on every exit path
//   - cancellation is a flag plus handlers; running code must check for it
//
// Errors:
//   - ErrCancelled for cooperative cancellation (also matches context.Canceled)
//   - *ChildTaskFailedError when a group surfaces a child's error
//   - executor.ErrExecutorClosed when a task's executor is gone
package task

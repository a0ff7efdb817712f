// Package broadcast sends an administrator's message to every known user.
//
// A Registry hands out short random job ids, an Engine delivers one job sequentially
// under a shared rate limiter and a Manager runs each job as a supervised task,
// editing a status message with live counters until the job completes or is cancelled.
package broadcast

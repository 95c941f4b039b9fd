// Package scheduler drives the task pipeline periodically.
//
// Each tick loads the configuration, runs one execution chain per task
// group in document order, and persists the task state. A tick that fires
// while the previous one is still running is skipped. An optional second
// entry checks for configuration updates.
package scheduler

// Package osd is the small platform layer the work queue is built on: wake
// events with Win32-style manual and auto reset semantics, a processor yield
// hint, and the logical processor count.
//
// Goroutines stand in for OS threads; thread create and join are a plain go
// statement and a sync.WaitGroup in the caller, so they have no wrapper here.
package osd

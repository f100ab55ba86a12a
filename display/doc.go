// Package display
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection coordinator for a display-server client connection shared by
// any number of goroutines.
//
// # Read admission
//
// Goroutines that want to read register first (RegisterReader or
// PrepareRead), wait for readability on their own terms, then either call
// ReadEvents or back out with CancelRead. The registration that brings the
// reader count to zero elects its goroutine: it performs the single
// physical read of the round and queues every decoded event on the queue
// of its target object. All other registered goroutines sleep until the
// round ends and return with the results already queued. A round ended by
// cancellation reads nothing; a goroutine woken by it takes over the read
// when nobody else is registered.
//
// # Dispatch
//
// DispatchPending drains a queue without blocking. Dispatch and
// DispatchContext run the full cycle: drain, register, flush, poll,
// ReadEvents, drain again. Handlers run on the dispatching goroutine with
// the connection lock released.
//
// # Faults
//
// I/O failures, peer close, malformed messages, protocol errors sent by the
// server and handler errors fault the connection once and for all. Every
// later call fails with the same error until the Display is discarded.
package display

// Package queue implements the conversion queue core: the in-memory job
// store, the concurrency-gated scheduler that dispatches jobs to the
// external encoder, the progress coalescer, and the reconciler that applies
// the encoder's asynchronous events back onto job state. The Manager type
// composes these into the facade callers use.
package queue

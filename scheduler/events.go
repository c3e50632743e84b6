package scheduler

import "quantbench/ledger"

type Event interface{}

// Tasks

type EventTaskCompleted struct {
	Device int
	Record ledger.Record
}

type EventTaskFailed struct {
	Device int
	Label  string
	Error  string
}

// Workers

// EventWorkerDone is a worker's final event; no more outcomes follow from
// this slot. Err is non-nil when the worker aborted on a storage fault or
// cancellation rather than draining its queue.
type EventWorkerDone struct {
	Device int
	Err    error
}

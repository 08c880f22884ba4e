// Package task implements background dispatch of analysis tasks: the
// WorkQueue contract and its in-memory implementation, the AnalysisEngine
// contract, the WorkerPool that executes deliveries, and the Reclaimer that
// re-dispatches tasks after a restart or a lost delivery.
package task

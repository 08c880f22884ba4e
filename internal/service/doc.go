// Package service implements the application façade over content and tasks.
//
// The Orchestrator accepts analysis requests and decides, under a per-request
// lock, whether to reuse an active task, return a cached result, or persist
// and dispatch a new task. It also serves task reads, cancellation, and
// per-owner statistics. Every persisted change it makes is published to the
// progress hub.
package service

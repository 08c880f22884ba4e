// Package api handles incoming HTTP and WebSocket requests, request
// validation, and response formatting. It acts as an adapter between
// external clients and the internal application services, translating
// HTTP concerns to content and task operations and mapping service errors
// to status codes.
package api

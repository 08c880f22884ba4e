// Package redisqueue provides a durable task.WorkQueue backed by Redis.
//
// Each dispatch token owns a hash holding the message body, its delivery
// attempt, and its lane. Ready tokens wait in one list per lane, leased
// tokens sit in a sorted set scored by lease expiry, and exhausted messages
// are appended to a dead-letter list. Every state change runs as a Lua
// script so that concurrent consumers on different hosts never lease the
// same message twice.
package redisqueue

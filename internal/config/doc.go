// Package config handles configuration loading, parsing, and validation
// from defaults, an optional config.yaml, an optional .env file, and
// DOCSAGE_-prefixed environment variables. It provides type-safe access to
// settings for the server, stores, queue, worker pool, and push channel.
package config

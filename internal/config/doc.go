// Package config handles configuration loading, parsing, and validation
// from a YAML file and TOPICQ_-prefixed environment variables. It provides
// type-safe access to the sweep, recovery, lock, and server settings while
// keeping configuration details separate from the queueing logic.
package config

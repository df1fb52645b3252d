// Package storage keeps historical bars. BarRepository is the durable store
// backed by TimescaleDB; Cache is a local Pebble copy that backtests can replay
// without a database.
package storage

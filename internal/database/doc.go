// Package database provides the PostgreSQL/TimescaleDB connection pool used by the event recorder.
package database

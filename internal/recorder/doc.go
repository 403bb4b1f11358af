// Package recorder persists inbound messages to PostgreSQL/TimescaleDB.
//
// The recorder subscribes to the wildcard type of a connection.Manager. Handlers only
// append to an in-memory buffer; a background loop drains it in batches with pgx.Batch,
// so dispatch never waits on the database.
package recorder

// Package storage holds the chat persistence interfaces; the SQL
// implementation lives in internal/storage/sqlstore.
package storage

// Package sqlstore implements parley persistence over database/sql through
// sqlx.
//
// One database backs both identity and conversation state, so the purpose
// token, its delivery outbox event, and the conversation membership join all
// share transaction boundaries. SQLite (modernc) is the default driver;
// PostgreSQL is available through pgx. Queries are written with '?'
// placeholders and rebound for the active driver.
package sqlstore

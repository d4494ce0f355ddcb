// Package storage defines persistence contracts for identity assets.
//
// These interfaces exist so credential, purpose-token, and outbox logic can
// depend on stable domain semantics without coupling to SQL schema details.
package storage

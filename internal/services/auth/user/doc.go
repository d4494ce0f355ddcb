// Package user defines the account model used as the shared identity anchor.
//
// These utilities normalize and validate human-facing identifiers before they
// are persisted or used by conversation-facing services.
package user

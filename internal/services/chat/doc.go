// Package chat implements conversations, memberships, and messages.
//
// Every conversation-scoped operation passes through one membership gate in
// the access package before it reads or mutates state, so the participation
// invariant has a single implementation.
//
// Subpackages:
//   - conversation: domain model and input normalization
//   - access: membership and message authorizers
//   - service: conversation operations composed over the gate
//   - storage: persistence contracts
package chat

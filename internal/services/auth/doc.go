// Package auth defines the identity boundary for parley.
//
// It owns user lifecycle, password credentials, session tokens, and the
// single-use purpose tokens behind email verification and password reset,
// so the chat side depends only on stable user IDs.
//
// Subpackages:
//   - user: user domain model and normalization
//   - credential: password authentication and changes
//   - session: stateless session token issue and verify
//   - purpose: single-use verification and reset tokens
//   - account: verification and reset flows over credential and purpose
//   - mail: outbox dispatcher and mail delivery contract
//   - storage: persistence contracts
package auth

// Package app composes and runs the parley process boundary.
//
// One SQL store backs identity, purpose tokens, the mail outbox, and
// conversations. The HTTP API, the gRPC health surface, the mail dispatcher,
// and the purpose token purge loop all share it.
package app

// Package httpapi binds the parley services to a JSON HTTP API.
//
// Every route under /v1 except signup, login, and the token-based email and
// password endpoints passes through the session middleware, which reads the
// auth_key header (or an Authorization bearer credential) and rejects the
// request before any handler runs. Domain errors are rendered as
// {"code","message"} with the status their kind maps to; anything else is
// logged and reported as a generic internal error.
package httpapi

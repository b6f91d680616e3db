// Package internal holds the Arisu backend internals.
//
// The internal tree is organized by responsibility:
//   - api: HTTP handlers, middleware and routing
//   - session: session records, stores, cookie signing
//   - domain: users, tokens and id generation
//   - storage: PostgreSQL and in-memory repositories
//   - jobs: River workers for the session sweep
//   - auth, audit, config, metrics, telemetry, sanitize: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal

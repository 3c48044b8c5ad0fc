// Package database manages the SQLite connection for the lab access core.
//
// It wraps database/sql with connection pragmas suited to SQLite's
// single-writer model (WAL mode, busy timeout, one open connection), a
// migration runner fed from an embedded filesystem, and a health check
// used at startup.
//
// Repositories in the domain packages (device, session, reservation,
// command, audit) receive the underlying *sql.DB and own their queries;
// this package owns only the connection lifecycle and schema versioning.
package database

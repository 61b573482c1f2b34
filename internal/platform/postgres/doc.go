// Package postgres persists manga tasks, panels, sessions and local-mode
// background jobs in PostgreSQL. It also owns the goose migrations and the
// connection bootstrap shared by the server and the worker.
package postgres

// Package store defines the narrow repository interfaces through which the
// core reads and writes durable state (sessions, issues, commits), plus a
// file-backed implementation with atomic JSON persistence. The interfaces
// are the boundary: an external SQL-backed layer can replace FileStore
// without touching the core.
package store

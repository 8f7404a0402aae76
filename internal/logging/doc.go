// Package logging wraps zap with context-aware correlation fields. Log
// calls pick up the session id, issue id, and OpenTelemetry trace ids from
// the context so every component logs with the same correlation keys.
package logging

// Package logx wraps zerolog behind a small, swap-safe logging API.
//
// The Service owns the sinks (console, JSON file) and can re-apply its
// configuration at runtime; Loggers handed out earlier keep working and pick
// up the new sinks on the next write.
package logx

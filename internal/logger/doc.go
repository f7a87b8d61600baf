// Package logger wraps zap for the workload engine.
//
// It keeps one global sugared logger with a console encoder, optionally teed
// into a rotating JSON log file (lumberjack). Components name their logger
// and attach the feature band or workload through the context helpers
// (WithName, WithKV, WithFields); the leveled helpers (InfoKV, WarnKV, ...)
// then log through whatever logger the context carries.
package logger

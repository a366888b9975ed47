// Package logx is crouswatch's structured logging.
//
// Logger is a thin value type over zerolog. Loggers obtained from a Service
// follow Service.Apply, so components keep the logger they were built with
// across config reloads. Sinks:
//   - console (short timestamp and caller)
//   - JSON file
//   - Telegram chat for operators, filtered by level and rate limited
package logx

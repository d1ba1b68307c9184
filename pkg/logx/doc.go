// Package logx is huddlebot's structured logging.
//
// logx.Logger wraps zerolog and writes to:
//   - the console (short timestamp and caller)
//   - an optional JSON file
//   - an optional Telegram chat, filtered by level and rate limited
package logx

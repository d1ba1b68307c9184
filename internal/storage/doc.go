// Package storage persists what the bot must remember across restarts:
// users it has seen (for @username resolution) and an audit trail of
// commands. Message contents are never stored.
package storage

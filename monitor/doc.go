// Package monitor implements the three long-lived tasks §4.8 describes:
// a backend connection monitor (reconnects with backoff), a message
// monitor (drives process_last_messages), and a sync monitor (debounces
// per-entry and calls sync_by_id). None of the three talk to the realm
// service directly; each is handed small callbacks by its caller (core),
// keeping this package ignorant of remote/userfs/workspacefs wiring.
package monitor

// Package history keeps a local audit trail of actuator transitions and
// remote commands in SQLite.
//
// It is the record of what the edge node did, kept even when both brokers
// and InfluxDB are unreachable. Timestamps are stored as RFC 3339 UTC text,
// which sorts chronologically.
package history

// Package sync pushes newly registered users into an XMPie Circle campaign
// via the XMPL REST API. A configured list of field mappings translates local
// user attributes into ador values, a single POST creates the remote
// recipient, and the returned recipientID is persisted against the user so
// each user is synchronized at most once. Every step is recorded in an
// append-only audit log that never interferes with the sync outcome.
package sync

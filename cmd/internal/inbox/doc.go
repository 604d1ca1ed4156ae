// Package inbox records inbound chat messages and keeps one summary row per contact in
// step with them.
//
// Two independent stores back the package: an append-only message log and a
// conversation summary keyed by contact. Pipeline writes both (message first) and then
// hands the stored message to a Broadcaster. Service is the read side.
//
// There is no cross-store transaction. A failed conversation upsert after a successful
// append leaves the message recorded and the summary stale; the error is returned so
// the caller can resend the event.
package inbox

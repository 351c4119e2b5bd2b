// Package inbound runs the ingress pipeline and the workflow callback path.
//
// Duplicate detection keys on (thread_id, client_msg_id): a point read
// short-circuits replays and the store's unique index catches racing ones.
// Persistence always completes before the workflow engine is called.
package inbound

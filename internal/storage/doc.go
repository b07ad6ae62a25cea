// Package storage persists what must survive a restart:
//
//   - the audit trail of routing decisions and delivery attempts
//   - suppression window claims, so a restarted relay does not resend a
//     notification that was already sent inside an open window
//
// Two drivers exist: "file" (jsonl journal plus snapshot, no dependencies)
// and "sqlite" (modernc.org/sqlite, pure Go).
package storage

// Package ticket implements the ticket state manager: every mutation of a
// ticket and every message append flows through Service, which serializes
// per-ticket work on a keyed mutex and enforces the status state machine
// (open -> human_assigned -> closed, soft delete only on closed).
package ticket

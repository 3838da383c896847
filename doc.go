// Package sqlqueue provides a durable, priority-ordered message queue stored in
// relational tables, plus a transactional outbox with a background forwarder.
//
// Typical flow:
//  1. Open a Scope for a unit of work. Transports bind one connection and one
//     transaction to the scope on first use; Scope.Complete commits, Scope.Dispose
//     rolls back whatever was not committed.
//  2. Send and Receive through a storage-specific Transport. Receive claims and
//     deletes the best eligible row in one step, skipping rows locked by other
//     claimers.
//  3. To stage outgoing messages next to other transactional writes, enroll the
//     scope with EnableOutbox (or OpenOutbox) and send through an OutboxTransport.
//     A Forwarder drains the outbox into the real transport with a bounded
//     RetryPolicy.
//  4. Run an ExpirySweeper to delete rows whose time to live has passed.
//
// For the PostgreSQL implementation see the postgres package; for MySQL 8+ see
// the mysql package.
package sqlqueue

/*
Package store implements SPEC_FULL.md §4.1: the on-disk layout and
locking protocol that makes the operation record the single
append-point-of-truth for one operation.

	<base>/<opID>.operation.json         live document (pretty JSON)
	<base>/<opID>.operation.json.lock    advisory lock (pid + acquired-at)
	<base>/<opID>.operation.log          human log
	<base>/<opID>.operation.debug.log    heartbeat trace log
	<base>/<opID>_trail/SSS.mmm_<opID>.* one snapshot per mutation
	<base>/backup/<opID>/                final snapshot + logs after archive

Every mutating call acquires the lock file, reads the live document,
writes its exact bytes into the trail directory, invokes the caller's
ModifyFunc against a clone, and writes the result back — in that order,
so the trail snapshot is always the pre-mutation state and a crash
between backup and write leaves the trail as the recovery point (§3
invariant 4). Reads acquire the lock only across the read itself.

Locking is a plain O_EXCL file create: an existing lock older than
StaleLockThreshold is presumed abandoned and reclaimed; otherwise the
acquirer retries until LockAcquireDeadline, then fails with
dplerr.LockTimeout.
*/
package store

// Package repository defines the storage contract used by the ticketing
// services and its MySQL implementation. The sentinel errors below are the
// only storage failures higher layers branch on; everything else is an
// infrastructure error.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or update violates a unique key,
// e.g. a second PENDING transfer for the same ticket.
var ErrDuplicate = errors.New("duplicate")

// ErrConstraint is returned when a write would break a CHECK constraint,
// e.g. seat block counters that no longer add up to total_seats.
var ErrConstraint = errors.New("check constraint violated")

// ErrLockNotAvailable is returned by NOWAIT lock attempts when another
// transaction holds the row.
var ErrLockNotAvailable = errors.New("row lock not available")

// ErrLockTimeout is returned when a blocking lock waited longer than the
// store's lock-wait timeout.
var ErrLockTimeout = errors.New("lock wait timeout")

// ErrDeadlock is returned when the store picked this transaction as a
// deadlock victim. The transaction has been rolled back and may be retried.
var ErrDeadlock = errors.New("deadlock")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.
var ErrForbidden = errors.New("forbidden")

// MySQL server error numbers mapped onto the sentinels.
const (
	mysqlDupEntry        = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlLockNowait      = 3572 // ER_LOCK_NOWAIT, MySQL 8.0+
	mysqlCheckViolated   = 3819
)

// mapError converts driver errors into the package sentinels and leaves
// anything else untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlDupEntry:
		return errors.Join(ErrDuplicate, err)
	case mysqlLockWaitTimeout:
		return errors.Join(ErrLockTimeout, err)
	case mysqlDeadlock:
		return errors.Join(ErrDeadlock, err)
	case mysqlLockNowait:
		return errors.Join(ErrLockNotAvailable, err)
	case mysqlCheckViolated:
		return errors.Join(ErrConstraint, err)
	}
	return err
}

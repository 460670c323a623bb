package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers the store reacts to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlOutOfRange      = 1690 // BIGINT value is out of range
)

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// isDuplicate reports a unique-key violation.
func isDuplicate(err error) bool { return mysqlErrNumber(err) == mysqlDuplicateEntry }

// isRetryable reports errors after which InnoDB rolled the transaction
// back (or will) and a fresh attempt may succeed.
func isRetryable(err error) bool {
	switch mysqlErrNumber(err) {
	case mysqlDeadlock, mysqlLockWaitTimeout:
		return true
	}
	return false
}

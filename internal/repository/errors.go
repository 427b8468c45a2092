// Package repository holds the durable stores of the booking service: the
// MySQL reservation store, the MySQL trip registry and the PostgreSQL
// archive.  Store failures are wrapped with model.ErrStoreUnavailable so
// that handlers can tell them apart from domain errors such as
// model.ErrNotFound or a *model.ConflictError.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ErrPreconditionFailed is returned by CompareAndUpdate when the record
// exists but does not satisfy the supplied Condition.  The current record
// is returned alongside it so that callers can report why.
var ErrPreconditionFailed = errors.New("precondition failed")

// mysqlDuplicateEntry is the server error number for a unique index
// violation.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// unavailable wraps a driver error as model.ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bft-labs/digestship/internal/domain"
)

const (
	mysqlNoSuchTable       = 1146
	postgresUndefinedTable = "42P01"
)

var mysqlCodes = map[uint16]string{
	1044: "ER_DBACCESS_DENIED_ERROR",
	1045: "ER_ACCESS_DENIED_ERROR",
	1049: "ER_BAD_DB_ERROR",
	1054: "ER_BAD_FIELD_ERROR",
	1062: "ER_DUP_ENTRY",
	1146: "ER_NO_SUCH_TABLE",
	1205: "ER_LOCK_WAIT_TIMEOUT",
	1213: "ER_LOCK_DEADLOCK",
	1290: "ER_OPTION_PREVENTS_STATEMENT",
	1040: "ER_CON_COUNT_ERROR",
}

// classify converts a driver error into a *domain.StoreError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		code, ok := mysqlCodes[myErr.Number]
		if !ok {
			code = "ER_UNKNOWN"
		}
		return &domain.StoreError{
			Code:         code,
			Errno:        int(myErr.Number),
			SQLState:     strings.TrimRight(string(myErr.SQLState[:]), "\x00"),
			Message:      myErr.Message,
			MissingTable: myErr.Number == mysqlNoSuchTable,
			Err:          err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &domain.StoreError{
			Code:         pgErr.Code,
			SQLState:     pgErr.Code,
			Message:      pgErr.Message,
			MissingTable: pgErr.Code == postgresUndefinedTable,
			Err:          err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.StoreError{Code: "TIMEOUT", Message: err.Error(), Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return &domain.StoreError{Code: "CONNECTION", Message: err.Error(), Err: err}
	}

	// sqlite reports only a message
	msg := err.Error()
	if strings.Contains(msg, "no such table") {
		return &domain.StoreError{
			Code:         "SQLITE_ERROR",
			Message:      msg,
			MissingTable: true,
			Err:          err,
		}
	}

	return &domain.StoreError{Message: msg, Err: err}
}

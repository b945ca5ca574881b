package errors

import (
	stderrs "errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgClass is how the corpus export treats one SQLSTATE
type pgClass struct {
	code  ErrorCode
	retry bool
}

var sqlStates = map[string]pgClass{
	"23502": {code: ErrorCodeValidation}, // not_null_violation
	"23514": {code: ErrorCodeValidation}, // check_violation

	// post text with NUL bytes or odd encodings
	"22001": {code: ErrorCodeInvalidArgument},
	"22P02": {code: ErrorCodeInvalidArgument},
	"22P05": {code: ErrorCodeInvalidArgument},

	"25006": {code: ErrorCodeUnavailable}, // read_only_sql_transaction
	"57P03": {code: ErrorCodeUnavailable}, // cannot_connect_now

	"40001": {code: ErrorCodeDB, retry: true}, // serialization_failure
	"40P01": {code: ErrorCodeDB, retry: true}, // deadlock_detected
	"55P03": {code: ErrorCodeDB, retry: true}, // lock_not_available
}

// pgx reports some conflicts only as text, mostly on commit
var retryText = []string{
	"commit unexpectedly resulted in rollback",
	"deadlock detected",
	"could not serialize access",
	"canceling statement due to lock timeout",
	"terminating connection due to administrator command",
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	ok := stderrs.As(err, &pgErr)
	return pgErr, ok
}

// DBErrorCode maps a Postgres error to an ErrorCode. ok is false when err
// carries no *pgconn.PgError
func DBErrorCode(err error) (ErrorCode, bool) {
	pgErr, ok := pgError(err)
	if !ok {
		return ErrorCodeUnknown, false
	}
	if c, known := sqlStates[pgErr.Code]; known {
		return c.code, true
	}
	return ErrorCodeDB, true
}

// FromPostgres wraps err with its mapped code, ErrorCodeDB for anything that
// is not a PgError. nil stays nil
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	code, ok := DBErrorCode(err)
	if !ok {
		code = ErrorCodeDB
	}
	return Wrap(err, code, msg)
}

// IsRetryable reports whether rerunning the transaction may succeed:
// serialization failures, deadlocks and lock timeouts
func IsRetryable(err error) bool {
	if err == nil || IsCanceled(err) {
		return false
	}
	if pgErr, ok := pgError(err); ok {
		return sqlStates[pgErr.Code].retry
	}
	s := strings.ToLower(Root(err).Error())
	for _, t := range retryText {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

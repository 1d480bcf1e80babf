package repositories

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/db"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// classify maps a driver error onto the application error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.New(apperror.ErrNotFound, op+": no rows", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return apperror.New(apperror.ErrConflict, fmt.Sprintf("%s: %s", op, pgErr.ConstraintName), err)
		case codeForeignKeyViolation:
			return apperror.New(apperror.ErrNotFound, fmt.Sprintf("%s: referenced row missing", op), err)
		case codeCheckViolation:
			return apperror.New(apperror.ErrInvalidInput, fmt.Sprintf("%s: %s", op, pgErr.ConstraintName), err)
		}
	}

	if db.IsRetryable(err) {
		return apperror.Transient(op, err)
	}
	return apperror.Internal(op, err)
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

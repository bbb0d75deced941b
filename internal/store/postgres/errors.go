package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// translate maps driver errors onto the shared error taxonomy. Errors already
// carrying a shared sentinel pass through untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("postgres: %s: %w", pgErr.Message, shared.ErrConcurrentModification)
	case codeUniqueViolation:
		return fmt.Errorf("postgres: %s: %w", pgErr.ConstraintName, shared.ErrDuplicate)
	case codeCheckViolation:
		// the ledger checks these bounds first
		return fmt.Errorf("postgres: constraint %s: %w", pgErr.ConstraintName, shared.ErrInternal)
	}
	return err
}

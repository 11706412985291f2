package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

func TestTranslateMySQLError(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"deadlock", &mysql.MySQLError{Number: mysqlErrDeadlock}, true},
		{"lock wait timeout", &mysql.MySQLError{Number: mysqlErrLockWait}, true},
		{"duplicate key", &mysql.MySQLError{Number: mysqlErrDuplicateItem}, true},
		{"wrapped duplicate key", fmt.Errorf("failed to create inventory snapshot: %w", &mysql.MySQLError{Number: mysqlErrDuplicateItem}), true},
		{"other mysql error", &mysql.MySQLError{Number: 1146}, false},
		{"plain error", errors.New("boom"), false},
		{"idempotency conflict", ErrIdempotencyConflict, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := translateMySQLError(tc.err)
			if domain.IsKind(got, domain.KindTransient) != tc.wantTransient {
				t.Errorf("transient=%v, want %v (err: %v)", !tc.wantTransient, tc.wantTransient, got)
			}
			if tc.wantTransient {
				// 包装后仍可回溯到底层驱动错误
				var myErr *mysql.MySQLError
				if !errors.As(got, &myErr) {
					t.Errorf("translated error must keep the driver error in its chain, got %v", got)
				}
			} else if got != tc.err {
				t.Errorf("non-transient errors must pass through unchanged, got %v", got)
			}
		})
	}
}

func TestTranslateMySQLError_Nil(t *testing.T) {
	if got := translateMySQLError(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

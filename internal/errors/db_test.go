package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDBError_NilError(t *testing.T) {
	assert.NoError(t, MapDBError(nil))
}

func TestMapDBError_ContextErrors(t *testing.T) {
	err := MapDBError(context.DeadlineExceeded)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrCodeTimeout, appErr.Code)

	err = MapDBError(context.Canceled)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrCodeCanceled, appErr.Code)
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	assert.True(t, IsNotFound(err))
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "column name metadata",
			pgErr: &pgconn.PgError{
				Code:       pgerrcode.UniqueViolation,
				ColumnName: "task_name",
			},
			wantField: "task_name",
		},
		{
			name: "field parsed from detail",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: "Key (task_name)=(health) already exists.",
			},
			wantField: "task_name",
		},
		{
			name: "no field information",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation,
			},
			wantField: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, ErrCodeConflict, appErr.Code)
			assert.Equal(t, tt.wantField, appErr.Field)
		})
	}
}

func TestMapDBError_ForeignKeyViolation(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
	assert.True(t, IsForeignKey(err))
}

func TestMapDBError_ValidationViolations(t *testing.T) {
	err := MapDBError(&pgconn.PgError{
		Code:       pgerrcode.NotNullViolation,
		ColumnName: "started_at",
	})
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrCodeValidation, appErr.Code)
	assert.Equal(t, "started_at", appErr.Field)

	err = MapDBError(&pgconn.PgError{Code: pgerrcode.CheckViolation})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrCodeValidation, appErr.Code)
}

func TestMapDBError_UnknownPgError(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})
	assert.True(t, IsInternal(err))
}

func TestMapDBError_StandardError(t *testing.T) {
	plain := errors.New("something else")
	assert.Equal(t, plain, MapDBError(plain))
}

package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"duplicate key", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, ErrDuplicate},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205}, ErrLockTimeout},
		{"deadlock", &mysql.MySQLError{Number: 1213}, ErrDeadlock},
		{"nowait", &mysql.MySQLError{Number: 3572}, ErrLockNotAvailable},
		{"check constraint", &mysql.MySQLError{Number: 3819}, ErrConstraint},
		{"wrapped nowait", fmt.Errorf("scan: %w", &mysql.MySQLError{Number: 3572}), ErrLockNotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			var me *mysql.MySQLError
			assert.True(t, errors.As(got, &me), "driver error stays reachable")
		})
	}

	other := &mysql.MySQLError{Number: 1146}
	assert.Same(t, error(other), mapError(other))
	assert.NoError(t, mapError(nil))
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, notFound(fmt.Errorf("row: %w", sql.ErrNoRows)), ErrNotFound)
	assert.ErrorIs(t, notFound(&mysql.MySQLError{Number: 3572}), ErrLockNotAvailable)
}

package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNumericRoundTrip(t *testing.T) {
	in := decimal.RequireFromString("0.0825")
	out := DecimalFromNumeric(NumericFromDecimal(in))
	require.True(t, in.Equal(out))

	require.True(t, DecimalFromNumeric(pgtype.Numeric{}).IsZero())
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert promo: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation})
	require.True(t, IsUniqueViolation(err))
	require.False(t, IsUniqueViolation(errors.New("boom")))
	require.True(t, IsCheckViolation(&pgconn.PgError{Code: pgerrcode.CheckViolation}))
}

func TestPgx5URL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/th", pgx5URL("postgres://u:p@localhost:5432/th"))
	require.Equal(t, "pgx5://h/db", pgx5URL("postgresql://h/db"))
	require.Equal(t, "pgx5://h/db", pgx5URL("pgx5://h/db"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

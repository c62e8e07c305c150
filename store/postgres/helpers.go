package postgres

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey reports a unique_violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// filter collects AND-ed conditions and their numbered placeholders.
type filter struct {
	conds []string
	args  []any
}

// bind adds v as an argument and returns its placeholder.
func (f *filter) bind(v any) string {
	f.args = append(f.args, v)
	return "$" + strconv.Itoa(len(f.args))
}

func (f *filter) and(cond string) { f.conds = append(f.conds, cond) }

// query renders "base WHERE ... ORDER BY order LIMIT n OFFSET m". A zero
// limit or offset is left out.
func (f *filter) query(base, order string, limit, offset int) string {
	var b strings.Builder
	b.WriteString(base)
	if len(f.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.conds, " AND "))
	}
	if order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(order)
	}
	if limit > 0 {
		b.WriteString(" LIMIT " + f.bind(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + f.bind(offset))
	}
	return b.String()
}

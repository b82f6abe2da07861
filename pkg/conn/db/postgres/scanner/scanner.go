package scanner

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v4"
)

type Queryer interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// type-safe scanner for pgx.Rows
//
// # example
//
//	type jobRow struct {
//		Id      string
//		Dataset string
//	}
//
//	func ListJobs(ctx context.Context, conn scanner.Queryer) ([]jobRow, error) {
//		return scanner.New[jobRow]().QueryAll(ctx, conn, `select "id", "dataset" from "import_job"`)
//	}
//
// # mapping rule
//
// A column is mapped into the field tagged with `sql:"column_name"`,
// or else the field whose name in snake_case is the column name.
// For example, column "started_at" is mapped into a field tagged
// `sql:"started_at"`, or a field named "StartedAt".
//
// Unexported fields and fields tagged `sql:"-"` are never mapped.
type Scanner[T any] interface {
	// scan all rows in pgx.Rows and convert to []T
	ScanAll(pgx.Rows) ([]T, error)

	// scan all rows in response of query.
	QueryAll(context.Context, Queryer, string, ...interface{}) ([]T, error)

	// scan the first row in response of query.
	//
	// When there are no rows, ok is false.
	QueryOne(context.Context, Queryer, string, ...interface{}) (row T, ok bool, err error)
}

type scanner[T any] struct {
	// column name -> field index
	columns map[string][]int
}

// New creates Scanner for struct T.
func New[T any]() Scanner[T] {
	columns := map[string][]int{}
	pt := reflect.TypeOf(*new(T))
	for i := 0; i < pt.NumField(); i++ {
		f := pt.Field(i)
		if !f.IsExported() {
			continue
		}
		col, ok := f.Tag.Lookup("sql")
		if col == "-" {
			continue
		}
		if !ok {
			col = snake(f.Name)
		}
		columns[col] = f.Index
	}
	return &scanner[T]{columns: columns}
}

// snake converts a Go field name into a column name.
//
//	snake("StartedAt") // => "started_at"
//	snake("JobID")     // => "job_id"
func snake(name string) string {
	rs := []rune(name)
	b := &strings.Builder{}
	for i, r := range rs {
		if unicode.IsUpper(r) {
			// a new word begins at an upper case letter after a lower one,
			// or at the last upper case letter of an acronym followed by a lower one.
			if 0 < i && (unicode.IsLower(rs[i-1]) ||
				(i+1 < len(rs) && unicode.IsUpper(rs[i-1]) && unicode.IsLower(rs[i+1]))) {
				b.WriteRune('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *scanner[T]) indices(rows pgx.Rows) ([][]int, error) {
	fds := rows.FieldDescriptions()
	idx := make([][]int, 0, len(fds))
	for _, fd := range fds {
		i, ok := s.columns[string(fd.Name)]
		if !ok {
			return nil, fmt.Errorf(
				`field for column "%s" is not found in type "%T"`,
				string(fd.Name), *new(T),
			)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

func (s *scanner[T]) ScanAll(rows pgx.Rows) ([]T, error) {
	idx, err := s.indices(rows)
	if err != nil {
		return nil, err
	}

	ret := []T{}
	for rows.Next() {
		elem := new(T)
		re := reflect.ValueOf(elem).Elem()

		dest := make([]interface{}, len(idx))
		for nth, i := range idx {
			dest[nth] = re.FieldByIndex(i).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		ret = append(ret, *elem)
	}
	return ret, rows.Err()
}

func (s *scanner[T]) QueryAll(ctx context.Context, conn Queryer, q string, params ...interface{}) ([]T, error) {
	rows, err := conn.Query(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.ScanAll(rows)
}

func (s *scanner[T]) QueryOne(ctx context.Context, conn Queryer, q string, params ...interface{}) (T, bool, error) {
	all, err := s.QueryAll(ctx, conn, q, params...)
	if err != nil || len(all) == 0 {
		return *new(T), false, err
	}
	return all[0], true, nil
}

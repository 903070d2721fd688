package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// fieldExpr returns the SQL expression for a record field. Declared index
// fields are spelled literally so SQLite can use their expression index;
// other fields bind their JSON path as a parameter.
func fieldExpr(c schema.Collection, field string) (string, []any, error) {
	switch {
	case field == models.FieldPersonaID && c.PersonaScoped():
		return "persona_id", nil, nil
	case field == c.PrimaryKey:
		return "pk", nil, nil
	case !fieldName.MatchString(field):
		return "", nil, fmt.Errorf("%w: bad field name %q", ErrInvalidQuery, field)
	case c.IsIndexed(field):
		return "json_extract(data, '$." + field + "')", nil, nil
	default:
		return "json_extract(data, ?)", []any{"$." + field}, nil
	}
}

func bindValue(v any) (any, error) {
	switch t := v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T", ErrInvalidQuery, v)
	}
}

// buildQuery returns the WHERE clause (possibly empty), ORDER BY clause and
// arguments for opts.
func buildQuery(c schema.Collection, opts QueryOptions) (string, string, []any, error) {
	if opts.PersonaID != "" && opts.Where != nil {
		return "", "", nil, fmt.Errorf("%w: personaId and where are mutually exclusive", ErrInvalidQuery)
	}

	var (
		where string
		args  []any
	)

	switch {
	case opts.Where != nil:
		val, err := bindValue(opts.Where.Value)
		if err != nil {
			return "", "", nil, err
		}
		if c.IsMultiEntry(opts.Where.Field) {
			where = ` WHERE EXISTS (SELECT 1 FROM json_each(data, ?) WHERE json_each.value = ?)`
			args = append(args, "$."+opts.Where.Field, val)
			break
		}
		expr, exprArgs, err := fieldExpr(c, opts.Where.Field)
		if err != nil {
			return "", "", nil, err
		}
		where = ` WHERE ` + expr + ` = ?`
		args = append(append(args, exprArgs...), val)
	case opts.PersonaID != "":
		expr, exprArgs, err := fieldExpr(c, models.FieldPersonaID)
		if err != nil {
			return "", "", nil, err
		}
		where = ` WHERE ` + expr + ` = ?`
		args = append(append(args, exprArgs...), opts.PersonaID)
	}

	order := ` ORDER BY seq`
	if opts.SortBy != "" {
		expr, exprArgs, err := fieldExpr(c, opts.SortBy)
		if err != nil {
			return "", "", nil, err
		}
		order = ` ORDER BY ` + expr + `, seq`
		args = append(args, exprArgs...)
	}

	return where, order, args, nil
}

func (b *SQLiteBackend) GetAll(ctx context.Context, collection string, opts QueryOptions) ([]models.Record, error) {
	conn, c, err := b.conn(ctx, collection)
	if err != nil {
		return nil, err
	}

	where, order, args, err := buildQuery(c, opts)
	if err != nil {
		return nil, err
	}

	b.log.Debug(ctx, "query", "collection", c.Name, "options", describe(opts))

	rows, err := conn.QueryContext(ctx, `SELECT data FROM `+table(c)+where+order, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.Name, err)
	}
	defer rows.Close()

	result := make([]models.Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", c.Name, err)
		}
		rec, err := decode(c, data)
		if err != nil {
			return nil, err
		}
		if opts.Filter != nil && !opts.Filter(rec) {
			continue
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", c.Name, err)
	}

	return result, nil
}

func (b *SQLiteBackend) Count(ctx context.Context, collection string, opts QueryOptions) (int, error) {
	if opts.Filter != nil {
		recs, err := b.GetAll(ctx, collection, opts)
		if err != nil {
			return 0, err
		}
		return len(recs), nil
	}

	conn, c, err := b.conn(ctx, collection)
	if err != nil {
		return 0, err
	}

	opts.SortBy = ""
	where, _, args, err := buildQuery(c, opts)
	if err != nil {
		return 0, err
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table(c)+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c.Name, err)
	}
	return n, nil
}

// describe renders opts for debug logs.
func describe(opts QueryOptions) string {
	var parts []string
	if opts.PersonaID != "" {
		parts = append(parts, "persona")
	}
	if opts.Where != nil {
		parts = append(parts, "where="+opts.Where.Field)
	}
	if opts.SortBy != "" {
		parts = append(parts, "sort="+opts.SortBy)
	}
	if opts.Filter != nil {
		parts = append(parts, "filter")
	}
	return strings.Join(parts, ",")
}

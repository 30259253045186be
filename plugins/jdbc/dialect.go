package jdbc

import (
	"fmt"
	"strings"

	gateway "github.com/featurebasedb/gateway"
)

// Dialect holds what differs between the SQL of database products.
type Dialect struct {
	Name string

	// Driver is the database/sql driver name.
	Driver string

	quote       func(ident string) string
	dateLiteral func(v string) string
	tsLiteral   func(v string) string
	placeholder func(i int) string
}

var dialects = map[string]*Dialect{
	"postgres": {
		Name:        "postgres",
		Driver:      "postgres",
		quote:       func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
		dateLiteral: func(v string) string { return "date'" + v + "'" },
		tsLiteral:   func(v string) string { return "'" + v + "'" },
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	},
	"mysql": {
		Name:        "mysql",
		Driver:      "mysql",
		quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		dateLiteral: func(v string) string { return "DATE('" + v + "')" },
		tsLiteral:   func(v string) string { return "'" + v + "'" },
		placeholder: func(int) string { return "?" },
	},
	"sqlserver": {
		Name:        "sqlserver",
		Driver:      "sqlserver",
		quote:       func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" },
		dateLiteral: func(v string) string { return "'" + v + "'" },
		tsLiteral:   func(v string) string { return "CONVERT(DATETIME, '" + v + "')" },
		placeholder: func(i int) string { return fmt.Sprintf("@p%d", i) },
	},
}

// DialectOf returns the dialect of a driver name. "pgx" and "mssql" are
// accepted as aliases.
func DialectOf(driver string) (*Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return dialects["postgres"], nil
	case "mysql":
		return dialects["mysql"], nil
	case "sqlserver", "mssql":
		return dialects["sqlserver"], nil
	}
	return nil, gateway.NewErrUnsupportedType("jdbc driver", driver)
}

// QuoteIdent quotes an identifier.
func (d *Dialect) QuoteIdent(s string) string { return d.quote(s) }

// Literal returns v as a literal of a partition column.
func (d *Dialect) Literal(t PartitionType, v string) string {
	switch t {
	case PartitionInt:
		return v
	case PartitionDate:
		return d.dateLiteral(v)
	case PartitionTimestamp:
		return d.tsLiteral(v)
	default:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
}

// SelectQuery returns the query reading columns of table, limited to p if
// it is not nil.
func (d *Dialect) SelectQuery(table string, columns []string, quote bool, p *Partition) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.ident(c, quote)
	}
	sel := "*"
	if len(cols) > 0 {
		sel = strings.Join(cols, ", ")
	}
	q := "SELECT " + sel + " FROM " + table
	if p != nil {
		q += " WHERE " + p.Constraint(d, quote)
	}
	return q
}

// InsertQuery returns the statement inserting one row of columns.
func (d *Dialect) InsertQuery(table string, columns []string, quote bool) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.ident(c, quote)
		params[i] = d.placeholder(i + 1)
	}
	return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(params, ", ") + ")"
}

func (d *Dialect) ident(s string, quote bool) string {
	if quote {
		return d.quote(s)
	}
	return s
}

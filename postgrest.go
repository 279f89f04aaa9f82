package dbal

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PostgREST query parameter names and filter operators.
const (
	paramOrder  = "order"
	paramLimit  = "limit"
	paramOffset = "offset"

	opEq = "eq"
	opIn = "in"
	opIs = "is"
)

// restLiteral renders a filter value. Booleans become true/false, never 1/0.
func restLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// quoteListItem double quotes an in.() element, escaping backslashes and
// double quotes.
func quoteListItem(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// restFilters converts where into PostgREST query parameters:
// col=eq.v, col=in.("a","b") and col=is.null.
func restFilters(where Where) (url.Values, error) {
	cols, err := fields(where)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for _, f := range cols {
		c, v := f.name, where[f.key]

		if list, ok := listValues(v); ok {
			items := make([]string, len(list))
			for i, item := range list {
				items[i] = quoteListItem(restLiteral(item))
			}
			q.Set(c, opIn+".("+strings.Join(items, ",")+")")
			continue
		}
		if v == nil {
			q.Set(c, opIs+".null")
			continue
		}
		q.Set(c, opEq+"."+restLiteral(v))
	}
	return q, nil
}

// restOrder converts "t.created_at DESC, name ASC" into
// "created_at.desc,name.asc".
func restOrder(order string) string {
	terms := ParseOrder(order)
	parts := make([]string, len(terms))
	for i, term := range terms {
		dir := "asc"
		if term.Desc {
			dir = "desc"
		}
		parts[i] = term.Column + "." + dir
	}
	return strings.Join(parts, ",")
}

// restRowValue is the REST value encoding of row data: booleans are sent as
// the literal strings "true" and "false".
func restRowValue(v any) any {
	if b, ok := v.(bool); ok {
		return strconv.FormatBool(b)
	}
	return v
}

// isReadStatement reports whether a raw statement is routed as a read. Only
// the leading keyword is inspected, so a query starting with WITH or a
// comment is treated as a write.
func isReadStatement(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}

// sqlLiteral renders v as a PostgreSQL literal for inlining into raw SQL.
func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []byte:
		return quoteSQLString(string(t))
	case time.Time:
		return quoteSQLString(t.Format(time.RFC3339Nano))
	default:
		return quoteSQLString(fmt.Sprint(t))
	}
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// inlineParams replaces each "?" outside quoted literals, identifiers and
// comments with the escaped literal of the matching parameter.
func inlineParams(query string, params []any) (string, error) {
	var b strings.Builder
	var quote byte
	used := 0

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			b.WriteString(query[i : i+end])
			i += end - 1
			continue
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				end = len(query) - i
			} else {
				end += 4
			}
			b.WriteString(query[i : i+end])
			i += end - 1
			continue
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			if used >= len(params) {
				return "", fmt.Errorf("%w: more placeholders than %d parameters", ErrPlaceholderCount, len(params))
			}
			b.WriteString(sqlLiteral(params[used]))
			used++
			continue
		}
		b.WriteByte(c)
	}

	if used != len(params) {
		return "", fmt.Errorf("%w: %d placeholders, %d parameters", ErrPlaceholderCount, used, len(params))
	}
	return b.String(), nil
}

package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aegis-cms/dbal"
)

// rule is a forbidden construct. Keyword rules match the query with strings
// and comments removed; raw rules match the query as written.
type rule struct {
	re   *regexp.Regexp
	desc string
	raw  bool
}

func keyword(k string) rule {
	return rule{re: regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])` + k + `(?:[^a-zA-Z_]|$)`), desc: "keyword " + k}
}

func function(name string) rule {
	return rule{re: regexp.MustCompile(`(?i)\b` + name + `\s*\(`), desc: "function " + name + "()", raw: true}
}

func pattern(expr, desc string) rule {
	return rule{re: regexp.MustCompile(expr), desc: desc, raw: true}
}

var commonRules = []rule{
	keyword("INSERT"),
	keyword("UPDATE"),
	keyword("DELETE"),
	keyword("DROP"),
	keyword("CREATE"),
	keyword("ALTER"),
	keyword("TRUNCATE"),
	keyword("GRANT"),
	keyword("REVOKE"),
	{re: regexp.MustCompile(`(?i)(?:^|;)\s*SET\b`), desc: "SET statement"},
}

var (
	leadingWord = regexp.MustCompile(`^\s*([A-Za-z]+)`)

	readPrefixes = []string{"SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}
)

// dialect describes how one backend quotes and comments SQL and which
// constructs it must refuse on top of commonRules.
type dialect struct {
	prefixes         []string
	hashComments     bool
	backslashEscapes bool
	doubleQuoteText  bool
	dollarQuotes     bool
	brackets         bool
	rules            []rule
}

var mysqlDialect = &dialect{
	prefixes:         readPrefixes,
	hashComments:     true,
	backslashEscapes: true,
	doubleQuoteText:  true,
	rules: []rule{
		pattern(`(?i)\bINTO\s+OUTFILE\b`, "INTO OUTFILE"),
		pattern(`(?i)\bINTO\s+DUMPFILE\b`, "INTO DUMPFILE"),
		pattern(`(?i)\bINTO\s+@`, "INTO @variable"),
		function("LOAD_FILE"),
		function("SLEEP"),
		function("BENCHMARK"),
		function("GET_LOCK"),
		function("RELEASE_LOCK"),
		function("IS_FREE_LOCK"),
		function("IS_USED_LOCK"),
		function("MASTER_POS_WAIT"),
		function("SOURCE_POS_WAIT"),
		keyword("CALL"),
		keyword("EXEC"),
		keyword("EXECUTE"),
		keyword("REPLACE"),
		keyword("LOAD"),
		keyword("HANDLER"),
		keyword("RENAME"),
	},
}

var postgresRules = []rule{
	pattern(`(?i)\bCOPY\s+.*\b(?:TO|FROM)\b`, "COPY"),
	function("pg_read_file"),
	function("pg_read_binary_file"),
	function("pg_ls_dir"),
	function("lo_import"),
	function("lo_export"),
	function("pg_sleep"),
	function("pg_sleep_for"),
	function("pg_sleep_until"),
	function("pg_advisory_lock"),
	function("pg_advisory_xact_lock"),
	function("pg_try_advisory_lock"),
	keyword("CALL"),
	keyword("EXECUTE"),
	keyword("COPY"),
	keyword("LISTEN"),
	keyword("NOTIFY"),
	keyword("PREPARE"),
	keyword("DEALLOCATE"),
	keyword("VACUUM"),
	keyword("REINDEX"),
	keyword("CLUSTER"),
}

var postgresDialect = &dialect{
	prefixes:     readPrefixes,
	dollarQuotes: true,
	rules:        postgresRules,
}

// The REST backend only routes SELECT statements to the read procedure.
var supabaseDialect = &dialect{
	prefixes:     []string{"SELECT"},
	dollarQuotes: true,
	rules:        postgresRules,
}

var sqliteDialect = &dialect{
	prefixes: append([]string{"PRAGMA"}, readPrefixes...),
	brackets: true,
	rules: []rule{
		function("load_extension"),
		function("writefile"),
		function("edit"),
		function("fts3_tokenizer"),
		keyword("REPLACE"),
		keyword("ATTACH"),
		keyword("DETACH"),
		keyword("REINDEX"),
		keyword("VACUUM"),
		{re: regexp.MustCompile(`(?i)\bPRAGMA\s+\w+\s*=`), desc: "PRAGMA write"},
	},
}

var genericDialect = &dialect{prefixes: readPrefixes}

func dialectFor(backend string) *dialect {
	switch backend {
	case dbal.TypeMySQL:
		return mysqlDialect
	case dbal.TypePostgres:
		return postgresDialect
	case dbal.TypeSupabase:
		return supabaseDialect
	case dbal.TypeSQLite:
		return sqliteDialect
	default:
		return genericDialect
	}
}

// ValidateReadOnly rejects anything but a single read statement for the
// given backend type.
func ValidateReadOnly(backend, query string) error {
	return dialectFor(backend).validate(query)
}

func (d *dialect) validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New("empty query")
	}

	m := leadingWord.FindStringSubmatch(query)
	if m == nil || !d.allowed(m[1]) {
		return fmt.Errorf("only %s queries are allowed", strings.Join(d.prefixes, ", "))
	}

	cleaned := d.strip(query)
	if _, rest, ok := strings.Cut(cleaned, ";"); ok && strings.TrimSpace(rest) != "" {
		return errors.New("multiple statements are not allowed")
	}

	for _, rules := range [][]rule{commonRules, d.rules} {
		for _, r := range rules {
			target := cleaned
			if r.raw {
				target = query
			}
			if r.re.MatchString(target) {
				return fmt.Errorf("query contains forbidden %s", r.desc)
			}
		}
	}
	return nil
}

func (d *dialect) allowed(word string) bool {
	for _, p := range d.prefixes {
		if strings.EqualFold(word, p) {
			return true
		}
	}
	return false
}

// strip replaces string literals with empty ones and comments with a space,
// leaving quoted identifiers intact, so keyword rules see only SQL text.
func (d *dialect) strip(sql string) string {
	var b strings.Builder
	n := len(sql)

	for i := 0; i < n; {
		c := sql[i]
		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-', c == '#' && d.hashComments:
			for i < n && sql[i] != '\n' {
				i++
			}
			b.WriteByte(' ')

		case c == '/' && i+1 < n && sql[i+1] == '*':
			if end := strings.Index(sql[i+2:], "*/"); end >= 0 {
				i += end + 4
			} else {
				i = n
			}
			b.WriteByte(' ')

		case c == '$' && d.dollarQuotes && dollarQuoted(sql[i:]) > 0:
			i += dollarQuoted(sql[i:])
			b.WriteString("''")

		case c == '\'':
			i = skipQuoted(sql, i, '\'', d.backslashEscapes)
			b.WriteString("''")

		case c == '"' && d.doubleQuoteText:
			i = skipQuoted(sql, i, '"', d.backslashEscapes)
			b.WriteString(`""`)

		case c == '"', c == '`', c == '[' && d.brackets:
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := i + 1
			for j < n && sql[j] != closer {
				j++
			}
			if j < n {
				j++
			}
			b.WriteString(sql[i:j])
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// skipQuoted returns the index just past the literal opened at sql[i].
// A doubled quote is an escaped quote.
func skipQuoted(sql string, i int, quote byte, backslash bool) int {
	for i++; i < len(sql); i++ {
		switch {
		case backslash && sql[i] == '\\':
			i++
		case sql[i] == quote:
			if i+1 < len(sql) && sql[i+1] == quote {
				i++
				continue
			}
			return i + 1
		}
	}
	return len(sql)
}

// dollarQuoted returns the length of a $tag$...$tag$ literal at the start
// of s, or 0 when s does not start with one. Positional parameters such as
// $1 are not tags.
func dollarQuoted(s string) int {
	end := strings.IndexByte(s[1:], '$')
	if end < 0 {
		return 0
	}
	tag := s[:end+2]
	for k, r := range tag[1 : len(tag)-1] {
		isLetter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !isLetter && (k == 0 || r < '0' || r > '9') {
			return 0
		}
	}
	closeIdx := strings.Index(s[len(tag):], tag)
	if closeIdx < 0 {
		return 0
	}
	return len(tag)*2 + closeIdx
}

package sqlexec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EmptyResultQuery is substituted whenever a generated statement is rejected.
// It is valid on every supported dialect and always returns zero rows.
const EmptyResultQuery = "SELECT * FROM customers WHERE 1 = 0"

var ErrUnsafeQuery = errors.New("unsafe query")

// ScopedTables are the tables whose rows belong to a single customer. Any
// statement reading them must filter on the authenticated identifier.
var ScopedTables = []string{"customers", "orders", "order_items"}

var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "ALTER": true,
	"CREATE": true, "TRUNCATE": true, "GRANT": true, "REVOKE": true, "REPLACE": true,
	"MERGE": true, "CALL": true, "EXEC": true, "EXECUTE": true, "INTO": true,
	"LOCK": true, "ATTACH": true, "DETACH": true, "PRAGMA": true, "VACUUM": true,
	"LOAD_FILE": true, "OUTFILE": true, "SLEEP": true, "BENCHMARK": true,
}

// scopedForbidden would let a statement over customer data widen its result
// past the identifier filter.
var scopedForbidden = map[string]bool{
	"OR": true, "XOR": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
	"WITH": true, "BETWEEN": true, "CROSS": true, "NATURAL": true, "USING": true,
}

var sqlReserved = map[string]bool{
	"ON": true, "JOIN": true, "WHERE": true, "LEFT": true, "RIGHT": true, "INNER": true,
	"OUTER": true, "FULL": true, "CROSS": true, "NATURAL": true, "GROUP": true,
	"ORDER": true, "LIMIT": true, "HAVING": true, "USING": true, "UNION": true,
}

const (
	identPattern = `[A-Za-z_][A-Za-z0-9_]*`
	clauseEnd    = `(?:$|\bAND\b|\bGROUP\b|\bORDER\b|\bLIMIT\b|\bHAVING\b)`
)

var (
	identRe    = regexp.MustCompile(identPattern + `(?:\.` + identPattern + `)*`)
	onRe       = regexp.MustCompile(`(?is)\bON\b(.*?)(?:\bJOIN\b|\bWHERE\b|\bGROUP\b|\bORDER\b|\bLIMIT\b|\bHAVING\b|\bUNION\b|\bLEFT\b|\bRIGHT\b|\bINNER\b|\bCROSS\b|\bFULL\b|\)|$)`)
	joinRe     = regexp.MustCompile(`(?i)\bJOIN\b`)
	whereRe    = regexp.MustCompile(`(?i)\bWHERE\b`)
	tableRefRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(` + identPattern + `)(?:\s+(?:AS\s+)?(` + identPattern + `))?`)
	fromRe     = regexp.MustCompile(`(?is)\bFROM\b(.*?)(?:\bWHERE\b|\bGROUP\b|\bORDER\b|\bLIMIT\b|\bHAVING\b|$)`)
	joinCondRe = regexp.MustCompile(`^(` + identPattern + `)\.(` + identPattern + `)\s*=\s*(` + identPattern + `)\.(` + identPattern + `)$`)
	scopeRe    = regexp.MustCompile(`(?is)\b(?:WHERE|AND)\s+(?:` + identPattern + `\.)?email\s*=\s*'\$(\d+)'\s*` + clauseEnd)
	scopeRevRe = regexp.MustCompile(`(?is)\b(?:WHERE|AND)\s+'\$(\d+)'\s*=\s*(?:` + identPattern + `\.)?email\s*` + clauseEnd)
)

// Check validates a generated statement: it must be a single SELECT or WITH
// query that never joins on email or name columns. A statement reading
// customer-scoped tables must also be one SELECT with no OR or subqueries,
// join only along JoinKeys, and carry email = '<identifier>' as a WHERE
// conjunct.
func Check(query, userIdentifier string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimRight(q, "; \t\r\n"))
	if q == "" {
		return fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}

	masked, literals, err := maskLiterals(q)
	if err != nil {
		return err
	}
	if strings.Contains(masked, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}
	if strings.Contains(masked, "--") || strings.Contains(masked, "/*") || strings.Contains(masked, "#") {
		return fmt.Errorf("%w: comments are not allowed", ErrUnsafeQuery)
	}

	idents := identRe.FindAllString(masked, -1)
	if len(idents) == 0 {
		return fmt.Errorf("%w: no statement keyword", ErrUnsafeQuery)
	}
	switch first := strings.ToUpper(idents[0]); first {
	case "SELECT", "WITH":
	default:
		return fmt.Errorf("%w: %s statements are not allowed", ErrUnsafeQuery, first)
	}
	for _, id := range idents {
		if forbiddenKeywords[strings.ToUpper(id)] {
			return fmt.Errorf("%w: keyword %s is not allowed", ErrUnsafeQuery, strings.ToUpper(id))
		}
	}

	ons := onRe.FindAllStringSubmatch(masked, -1)
	for _, m := range ons {
		for _, id := range identRe.FindAllString(m[1], -1) {
			if isForbiddenJoinColumn(id) {
				return fmt.Errorf("%w: join on %s", ErrUnsafeQuery, id)
			}
		}
	}

	if !touchesScopedTable(idents) {
		return nil
	}
	if err := checkScopedShape(masked, idents); err != nil {
		return err
	}
	if err := checkJoins(masked, ons); err != nil {
		return err
	}
	if !hasScopeConjunct(masked, literals, userIdentifier) {
		return fmt.Errorf("%w: customer data must be filtered by the authenticated identifier", ErrUnsafeQuery)
	}
	return nil
}

func checkScopedShape(masked string, idents []string) error {
	selects := 0
	for _, id := range idents {
		up := strings.ToUpper(id)
		if up == "SELECT" {
			selects++
		}
		if scopedForbidden[up] {
			return fmt.Errorf("%w: %s is not allowed over customer data", ErrUnsafeQuery, up)
		}
	}
	if selects != 1 {
		return fmt.Errorf("%w: subqueries are not allowed over customer data", ErrUnsafeQuery)
	}
	if strings.Contains(masked, "|") {
		return fmt.Errorf("%w: | is not allowed over customer data", ErrUnsafeQuery)
	}
	if m := fromRe.FindStringSubmatch(masked); m != nil && strings.Contains(m[1], ",") {
		return fmt.Errorf("%w: implicit joins are not allowed over customer data", ErrUnsafeQuery)
	}
	return nil
}

// checkJoins requires one ON clause per JOIN, each an equality of the shared
// id column between two different tables listed in JoinKeys. A scoped table
// may be referenced only once.
func checkJoins(masked string, ons [][]string) error {
	if n := len(joinRe.FindAllString(masked, -1)); n != len(ons) {
		return fmt.Errorf("%w: every join needs an ON clause", ErrUnsafeQuery)
	}

	tables := map[string]string{}
	seen := map[string]bool{}
	for _, m := range tableRefRe.FindAllStringSubmatch(masked, -1) {
		table := strings.ToLower(m[1])
		if isScoped(table) {
			if seen[table] {
				return fmt.Errorf("%w: %s is joined with itself", ErrUnsafeQuery, table)
			}
			seen[table] = true
		}
		tables[table] = table
		if alias := strings.ToLower(m[2]); alias != "" && !sqlReserved[strings.ToUpper(alias)] {
			tables[alias] = table
		}
	}

	for _, m := range ons {
		cond := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "()"))
		parts := joinCondRe.FindStringSubmatch(cond)
		if parts == nil {
			return fmt.Errorf("%w: join condition %q must compare id columns", ErrUnsafeQuery, cond)
		}
		left, right := tables[strings.ToLower(parts[1])], tables[strings.ToLower(parts[3])]
		lcol, rcol := strings.ToLower(parts[2]), strings.ToLower(parts[4])
		if left == "" || right == "" || left == right || lcol != rcol || !isJoinKey(left, right, lcol) {
			return fmt.Errorf("%w: join condition %q does not follow the join rules", ErrUnsafeQuery, cond)
		}
	}
	return nil
}

func isJoinKey(a, b, col string) bool {
	for _, k := range JoinKeys {
		if k.Column != col {
			continue
		}
		if (k.Left == a && k.Right == b) || (k.Left == b && k.Right == a) {
			return true
		}
	}
	return false
}

func hasScopeConjunct(masked string, literals []string, userIdentifier string) bool {
	loc := whereRe.FindStringIndex(masked)
	if loc == nil {
		return false
	}
	where := masked[loc[0]:]
	for _, re := range []*regexp.Regexp{scopeRe, scopeRevRe} {
		for _, m := range re.FindAllStringSubmatch(where, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n >= len(literals) {
				continue
			}
			if sameIdentifier(literals[n], userIdentifier) {
				return true
			}
		}
	}
	return false
}

// Sanitize returns the statement ready for execution, or EmptyResultQuery
// together with the reason the statement was rejected.
func Sanitize(query, userIdentifier string) (string, error) {
	if err := Check(query, userIdentifier); err != nil {
		return EmptyResultQuery, err
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")), nil
}

func isForbiddenJoinColumn(ident string) bool {
	col := strings.ToLower(ident)
	if i := strings.LastIndex(col, "."); i >= 0 {
		col = col[i+1:]
	}
	for _, f := range ForbiddenJoinColumns {
		if col == f || strings.HasSuffix(col, "_"+f) {
			return true
		}
	}
	return false
}

func touchesScopedTable(idents []string) bool {
	for _, id := range idents {
		name := strings.ToLower(id)
		if i := strings.Index(name, "."); i >= 0 {
			name = name[:i]
		}
		if isScoped(name) {
			return true
		}
	}
	return false
}

func isScoped(table string) bool {
	for _, t := range ScopedTables {
		if table == t {
			return true
		}
	}
	return false
}

func sameIdentifier(literal, want string) bool {
	want = strings.TrimSpace(want)
	return want != "" && strings.EqualFold(strings.TrimSpace(literal), want)
}

// maskLiterals replaces the contents of each single-quoted string literal
// with a $N placeholder, N being its index in the returned literal values.
// Double-quoted and backticked identifiers are left untouched.
func maskLiterals(q string) (string, []string, error) {
	var (
		out      strings.Builder
		literals []string
		cur      strings.Builder
		inLit    bool
	)
	runes := []rune(q)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !inLit {
			out.WriteRune(r)
			if r == '\'' {
				inLit = true
				cur.Reset()
			}
			continue
		}
		if r == '\\' && i+1 < len(runes) {
			cur.WriteRune(runes[i+1])
			i++
			continue
		}
		if r == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				cur.WriteRune('\'')
				i++
				continue
			}
			inLit = false
			fmt.Fprintf(&out, "$%d'", len(literals))
			literals = append(literals, cur.String())
		}
		if inLit {
			cur.WriteRune(r)
		}
	}
	if inLit {
		return "", nil, fmt.Errorf("%w: unterminated string literal", ErrUnsafeQuery)
	}
	return out.String(), literals, nil
}

package bulk

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	queryNameRe = regexp.MustCompile(`query\s+(\w+)`)
	varDeclRe   = regexp.MustCompile(`\(\$.*?\)`)
)

// ParseQueryName extracts the operation name from a query document, or
// "UnknownQuery" for anonymous queries. The name labels log lines and
// metrics for a bulk run.
func ParseQueryName(query string) string {
	m := queryNameRe.FindStringSubmatch(query)
	if m == nil {
		return "UnknownQuery"
	}
	return m[1]
}

// InjectVariables rewrites a parameterized query into the literal form the
// bulk engine requires: the variable declaration list after the operation
// name is stripped, and every $name placeholder in the body is replaced
// with its value. Strings are quoted verbatim; no escaping is applied, so
// a value containing a double quote yields an invalid document. All other
// values are rendered with their default formatting.
func InjectVariables(query string, variables map[string]interface{}) string {
	query = varDeclRe.ReplaceAllString(query, "")
	for name, value := range variables {
		var literal string
		if s, ok := value.(string); ok {
			literal = `"` + s + `"`
		} else {
			literal = fmt.Sprintf("%v", value)
		}
		query = strings.ReplaceAll(query, "$"+name, literal)
	}
	return query
}

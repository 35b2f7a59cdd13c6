package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

// MaxIdentifierLength caps table and column names.
const MaxIdentifierLength = 128

var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_ ]*$`)
	orderByPattern    = regexp.MustCompile(`^[a-zA-Z0-9_,\s]+$`)

	// Matched as substrings of the upper-cased clause, so a column such as
	// created_date is rejected as well.
	orderByDenied = []string{"DROP", "DELETE", "INSERT", "UPDATE", "CREATE", "ALTER", "EXEC", "--", "/*", ";"}
)

// ValidateIdentifier checks a table or column name. kind names the
// identifier in the returned error.
func ValidateIdentifier(kind, name string) error {
	if len(name) > MaxIdentifierLength {
		return &store.ValidationError{
			Field:  kind,
			Reason: strconv.Quote(truncate(name)) + " exceeds " + strconv.Itoa(MaxIdentifierLength) + " characters",
		}
	}
	if !identifierPattern.MatchString(name) {
		return &store.ValidationError{
			Field:  kind,
			Reason: strconv.Quote(name) + " may only contain letters, digits, underscores and inner spaces",
		}
	}
	return nil
}

// QuoteIdentifier validates name and returns it double-quoted for use in SQL
// text.
func QuoteIdentifier(kind, name string) (string, error) {
	if err := ValidateIdentifier(kind, name); err != nil {
		return "", err
	}
	return `"` + name + `"`, nil
}

// ValidateOrderBy checks an ORDER BY clause (without the keywords).
func ValidateOrderBy(orderBy string) error {
	if !orderByPattern.MatchString(orderBy) {
		return &store.ValidationError{
			Field:  "order by",
			Reason: strconv.Quote(orderBy) + " may only contain column names, commas, spaces and ASC/DESC",
		}
	}
	upper := strings.ToUpper(orderBy)
	for _, kw := range orderByDenied {
		if strings.Contains(upper, kw) {
			return &store.ValidationError{
				Field:  "order by",
				Reason: "contains forbidden keyword " + strconv.Quote(kw),
			}
		}
	}
	return nil
}

func quoteAll(kind string, names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := QuoteIdentifier(kind, n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func truncate(s string) string {
	if len(s) <= 32 {
		return s
	}
	return s[:32] + "..."
}

package sqlqueue

import (
	"fmt"
	"strings"
)

// TableName is a possibly schema-qualified table identifier.
// Two names are equal when both schema and name are equal.
type TableName struct {
	Schema string
	Name   string
}

// ParseTableName parses "name", "schema.name" or the quoted forms "\"name\"" and
// "\"schema\".\"name\"". Unquoted parts may contain letters, digits and
// underscores; quoted parts may contain anything except quotes, backticks and NUL.
func ParseTableName(value string) (TableName, error) {
	if strings.TrimSpace(value) == "" {
		return TableName{}, ErrTableNameRequired
	}

	parts, err := splitIdentifier(value)
	if err != nil {
		return TableName{}, err
	}

	switch len(parts) {
	case 1:
		return TableName{Name: parts[0]}, nil
	case 2:
		return TableName{Schema: parts[0], Name: parts[1]}, nil
	default:
		return TableName{}, fmt.Errorf("%w: %s has more than one '.' outside quotes", ErrInvalidTableName, value)
	}
}

// MustParseTableName is like ParseTableName but panics on error.
func MustParseTableName(value string) TableName {
	name, err := ParseTableName(value)
	if err != nil {
		panic(err)
	}

	return name
}

// WithDefaultSchema returns t with schema set when t has none.
func (t TableName) WithDefaultSchema(schema string) TableName {
	if t.Schema == "" {
		t.Schema = schema
	}

	return t
}

// String returns schema.name, or name when no schema is set.
func (t TableName) String() string {
	if t.Schema == "" {
		return t.Name
	}

	return t.Schema + "." + t.Name
}

// Validate checks that both parts are usable as quoted identifiers.
func (t TableName) Validate() error {
	if t.Name == "" {
		return ErrTableNameRequired
	}
	if !validQuoted(t.Name) || (t.Schema != "" && !validQuoted(t.Schema)) {
		return fmt.Errorf("%w: %s", ErrInvalidTableName, t)
	}

	return nil
}

func splitIdentifier(value string) ([]string, error) {
	var (
		parts []string
		rest  = strings.TrimSpace(value)
	)
	for {
		var part string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				return nil, fmt.Errorf("%w: %s has an unterminated quote", ErrInvalidTableName, value)
			}
			part = rest[1 : end+1]
			if part == "" || !validQuoted(part) {
				return nil, fmt.Errorf("%w: %s", ErrInvalidTableName, value)
			}
			rest = strings.TrimSpace(rest[end+2:])
		} else {
			end := strings.Index(rest, ".")
			if end < 0 {
				end = len(rest)
			}
			part = strings.TrimSpace(rest[:end])
			if !validPlain(part) {
				return nil, fmt.Errorf("%w: %s", ErrInvalidTableName, value)
			}
			rest = rest[end:]
		}
		parts = append(parts, part)

		if rest == "" {
			return parts, nil
		}
		if !strings.HasPrefix(rest, ".") {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTableName, value)
		}
		rest = strings.TrimSpace(rest[1:])
		if rest == "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTableName, value)
		}
	}
}

func validPlain(part string) bool {
	if part == "" {
		return false
	}
	for _, r := range part {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}

		return false
	}

	return true
}

func validQuoted(part string) bool {
	if part == "" {
		return false
	}

	return !strings.ContainsAny(part, "\"`\x00")
}

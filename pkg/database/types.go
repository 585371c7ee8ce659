package database

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

// StringList is a set-like list of tokens persisted as one space-separated
// TEXT column (scopes, grant types, authorities, resource ids).
type StringList []string

// ParseStringList splits on spaces and commas, dropping empty entries.
func ParseStringList(s string) StringList {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return nil
	}
	return StringList(fields)
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	return strings.Join(l, " "), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
	case string:
		*l = ParseStringList(v)
	case []byte:
		*l = ParseStringList(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	return nil
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every element of other is in the list.
func (l StringList) ContainsAll(other []string) bool {
	for _, v := range other {
		if !l.Contains(v) {
			return false
		}
	}
	return true
}

// Sorted returns a sorted, de-duplicated copy.
func (l StringList) Sorted() StringList {
	seen := make(map[string]struct{}, len(l))
	out := make(StringList, 0, len(l))
	for _, v := range l {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Equal compares two lists as sets.
func (l StringList) Equal(other StringList) bool {
	a, b := l.Sorted(), other.Sorted()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

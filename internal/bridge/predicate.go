package bridge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PredicateKind selects how Value is compared.
type PredicateKind string

const (
	PredicateEquals  PredicateKind = "equals"
	PredicateMatches PredicateKind = "matches"
)

// Searchable protocol fields. FieldTopic compares the room display name.
const (
	FieldNickName   = "NickName"
	FieldRemarkName = "RemarkName"
	FieldTopic      = "NickName"
)

var searchableFields = map[string]bool{
	FieldNickName:   true,
	FieldRemarkName: true,
}

// Predicate is a structured search filter handed to the transport.
type Predicate struct {
	Kind  PredicateKind `json:"kind"`
	Field string        `json:"field"`
	Value string        `json:"value"`
}

func Equals(field, value string) Predicate {
	return Predicate{Kind: PredicateEquals, Field: field, Value: value}
}

func Matches(field string, re *regexp.Regexp) Predicate {
	return Predicate{Kind: PredicateMatches, Field: field, Value: re.String()}
}

// Validate checks the field whitelist and that patterns compile.
func (p Predicate) Validate() error {
	if !searchableFields[p.Field] {
		return fmt.Errorf("predicate: field %q is not searchable", p.Field)
	}
	switch p.Kind {
	case PredicateEquals:
		return nil
	case PredicateMatches:
		if _, err := regexp.Compile(p.Value); err != nil {
			return fmt.Errorf("predicate: %w", err)
		}
		if _, _, err := jsPattern(p.Value); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("predicate: unknown kind %q", p.Kind)
	}
}

// Match evaluates the predicate against a field value locally.
func (p Predicate) Match(v string) bool {
	switch p.Kind {
	case PredicateEquals:
		return v == p.Value
	case PredicateMatches:
		re, err := regexp.Compile(p.Value)
		return err == nil && re.MatchString(v)
	}
	return false
}

// Script renders the predicate as a JavaScript filter function body for
// transports that evaluate it inside the page. Values are emitted as JSON
// string literals only.
func (p Predicate) Script() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	field, _ := json.Marshal(p.Field)
	value, _ := json.Marshal(p.Value)
	switch p.Kind {
	case PredicateEquals:
		return fmt.Sprintf("function (c) { return c[%s] === %s; }", field, value), nil
	default:
		source, flags, _ := jsPattern(p.Value)
		value, _ = json.Marshal(source)
		if flags == "" {
			return fmt.Sprintf("function (c) { return new RegExp(%s).test(c[%s]); }", value, field), nil
		}
		return fmt.Sprintf("function (c) { return new RegExp(%s, %q).test(c[%s]); }", value, flags, field), nil
	}
}

var leadingFlags = regexp.MustCompile(`^\(\?([a-zA-Z]+)\)`)

// jsPattern rewrites an RE2 pattern for the JavaScript RegExp constructor.
// A leading flag group such as (?i) becomes the flags argument and
// (?P<name> groups become (?<name>. Flags anywhere else, or flags with no
// JavaScript counterpart, are rejected.
func jsPattern(pattern string) (source, flags string, err error) {
	source = pattern
	if m := leadingFlags.FindStringSubmatch(pattern); m != nil {
		for _, f := range m[1] {
			if !strings.ContainsRune("ims", f) {
				return "", "", fmt.Errorf("predicate: flag %q is not supported in page filters", f)
			}
		}
		flags = m[1]
		source = pattern[len(m[0]):]
	}

	var b strings.Builder
	inClass := false
	for i := 0; i < len(source); i++ {
		c := source[i]
		switch {
		case c == '\\' && i+1 < len(source):
			b.WriteByte(c)
			i++
			c = source[i]
		case inClass:
			inClass = c != ']'
		case c == '[':
			inClass = true
		case c == '(' && strings.HasPrefix(source[i:], "(?"):
			rest := source[i+2:]
			switch {
			case strings.HasPrefix(rest, ":"), strings.HasPrefix(rest, "<"):
			case strings.HasPrefix(rest, "P<"):
				b.WriteString("(?<")
				i += 3
				continue
			default:
				return "", "", fmt.Errorf("predicate: inline flags are only supported at the start of the pattern")
			}
		}
		b.WriteByte(c)
	}
	return b.String(), flags, nil
}

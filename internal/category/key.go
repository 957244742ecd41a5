package category

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes numeric class codes from text labels.
type Kind int

const (
	// KindNumeric keys are integer class codes.
	KindNumeric Kind = iota
	// KindText keys are string labels from an attribute table.
	KindText
)

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	return "numeric"
}

// ParseKind accepts "numeric" or "text"; empty means numeric.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "numeric", "number", "int":
		return KindNumeric, nil
	case "text", "string", "label":
		return KindText, nil
	default:
		return 0, fmt.Errorf("unknown key kind %q", s)
	}
}

// Key is a category key: either a numeric code or a text label. Keys are
// comparable and usable as map keys.
type Key struct {
	kind Kind
	num  int
	text string
}

// Numeric returns a numeric key.
func Numeric(code int) Key { return Key{kind: KindNumeric, num: code} }

// Text returns a text key.
func Text(label string) Key { return Key{kind: KindText, text: label} }

// ParseKey builds a key of the given kind from its configuration form.
func ParseKey(kind Kind, s string) (Key, error) {
	if kind == KindText {
		return Text(strings.Trim(s, `'"`)), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Key{}, fmt.Errorf("numeric key %q: %w", s, err)
	}
	return Numeric(n), nil
}

// Kind returns the key's variant.
func (k Key) Kind() Kind { return k.kind }

// Code returns the numeric code; ok is false for text keys.
func (k Key) Code() (int, bool) { return k.num, k.kind == KindNumeric }

// Label returns the text label; ok is false for numeric keys.
func (k Key) Label() (string, bool) { return k.text, k.kind == KindText }

// String renders numeric keys bare and text keys single-quoted, the form
// used in attribute queries.
func (k Key) String() string {
	if k.kind == KindText {
		return "'" + strings.ReplaceAll(k.text, "'", "''") + "'"
	}
	return strconv.Itoa(k.num)
}

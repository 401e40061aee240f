// Package at tokenizes AT command response and notification lines.
//
// A line such as
//
//	+CEREG: 5,1,"0A0B","01A2D001",9,,,"00100101","00000010"
//
// is split into an identifier ("+CEREG") at index 0 followed by its
// comma separated parameters at index 1 and up. Quoted parameters are
// strings, bare digits are integers and missing parameters are empty.
package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type of a parsed parameter.
type Kind int

const (
	KindEmpty Kind = iota
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Param is a single token of a line.
type Param struct {
	Kind  Kind
	Raw   string
	Value int
}

var (
	ErrUnterminatedQuote = errors.New("at: unterminated quoted string")
	ErrEmptyLine         = errors.New("at: empty line")
	ErrIndex             = errors.New("at: parameter index out of range")
	ErrType              = errors.New("at: parameter has wrong type")
)

// Params is a tokenized line. Index 0 is always the identifier.
type Params []Param

// Parse tokenizes a single line.
func Parse(line string) (Params, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}

	id, rest, found := strings.Cut(line, ":")
	params := Params{{Kind: KindString, Raw: strings.TrimSpace(id)}}
	if !found {
		return params, nil
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return params, nil
	}

	var tok strings.Builder
	quoted, inQuote := false, false
	flush := func() {
		params = append(params, newParam(tok.String(), quoted))
		tok.Reset()
		quoted = false
	}

	for _, r := range rest {
		switch {
		case r == '"':
			inQuote = !inQuote
			quoted = true
		case r == ',' && !inQuote:
			flush()
		case (r == ' ' || r == '\t') && !inQuote:
		default:
			tok.WriteRune(r)
		}
	}
	if inQuote {
		return nil, ErrUnterminatedQuote
	}
	flush()

	return params, nil
}

func newParam(raw string, quoted bool) Param {
	if quoted {
		return Param{Kind: KindString, Raw: raw}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Param{Kind: KindEmpty}
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return Param{Kind: KindInt, Raw: raw, Value: v}
	}
	return Param{Kind: KindString, Raw: raw}
}

// Identifier returns the leading token of the line, e.g. "+CEREG".
func (p Params) Identifier() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Raw
}

// Int returns the integer parameter at index i.
func (p Params) Int(i int) (int, error) {
	if i < 1 || i >= len(p) {
		return 0, fmt.Errorf("%w: %d of %d", ErrIndex, i, len(p))
	}
	if p[i].Kind != KindInt {
		return 0, fmt.Errorf("%w: index %d is %s, want int", ErrType, i, p[i].Kind)
	}
	return p[i].Value, nil
}

// String returns the string parameter at index i.
func (p Params) String(i int) (string, error) {
	if i < 1 || i >= len(p) {
		return "", fmt.Errorf("%w: %d of %d", ErrIndex, i, len(p))
	}
	if p[i].Kind != KindString {
		return "", fmt.Errorf("%w: index %d is %s, want string", ErrType, i, p[i].Kind)
	}
	return p[i].Raw, nil
}

// Final result codes terminating a command response.
const (
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"
)

// IsFinal reports whether line terminates a command response.
func IsFinal(line string) bool {
	return line == OK || IsError(line)
}

// IsError reports whether line is an error final result code.
func IsError(line string) bool {
	return line == ERROR ||
		strings.HasPrefix(line, CmeError) ||
		strings.HasPrefix(line, CmsError)
}

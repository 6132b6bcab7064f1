// Package pattern implements wildcard byte signatures and the scanner used
// to locate them inside a code buffer.
//
// A signature is written as space separated tokens:
//
//	48        exact byte
//	_48       exact byte (required marker, same as 48)
//	&0f       mask byte, matches b when b&0x0f == 0x0f
//	??        any byte
package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the matching rule of a single pattern element.
type Kind uint8

const (
	// Exact matches one specific byte value.
	Exact Kind = iota
	// Mask matches a byte b when b&Value == Value.
	Mask
	// Any matches every byte.
	Any
)

// Element is one position of a pattern.
type Element struct {
	Kind  Kind
	Value byte
}

// Match reports whether b satisfies the element.
func (e Element) Match(b byte) bool {
	switch e.Kind {
	case Exact:
		return b == e.Value
	case Mask:
		return b&e.Value == e.Value
	default:
		return true
	}
}

func (e Element) String() string {
	switch e.Kind {
	case Mask:
		return fmt.Sprintf("&%02x", e.Value)
	case Any:
		return "??"
	default:
		return fmt.Sprintf("%02x", e.Value)
	}
}

// Pattern is an ordered list of elements. Its end acts as the terminator.
type Pattern []Element

func (p Pattern) String() string {
	s := make([]string, len(p))
	for i := range p {
		s[i] = p[i].String()
	}
	return strings.Join(s, " ")
}

// MarshalYAML renders the pattern in signature syntax.
func (p Pattern) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML parses a signature string. A list of byte values is
// read as the marker-byte encoding accepted by Decode, the terminator may
// be omitted.
func (p *Pattern) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var raw []byte
		if unmarshal(&raw) != nil {
			return err
		}
		pp, err := Decode(append(raw, 0x00))
		if err != nil {
			return err
		}
		*p = pp
		return nil
	}
	pp, err := Parse(s)
	if err != nil {
		return err
	}
	*p = pp
	return nil
}

var errEmptyPattern = errors.New("empty pattern")

// Parse converts a signature string into a Pattern.
func Parse(sig string) (Pattern, error) {
	fields := strings.Fields(sig)
	if len(fields) == 0 {
		return nil, errEmptyPattern
	}
	p := make(Pattern, 0, len(fields))
	for _, tok := range fields {
		if tok == "??" || tok == "?" {
			p = append(p, Element{Kind: Any})
			continue
		}
		kind := Exact
		switch tok[0] {
		case '_':
			tok = tok[1:]
		case '&':
			kind = Mask
			tok = tok[1:]
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad pattern token %q: %w", tok, err)
		}
		p = append(p, Element{Kind: kind, Value: byte(v)})
	}
	return p, nil
}

// MustParse is like Parse but panics on malformed signatures. It is meant
// for signatures compiled into the program.
func MustParse(sig string) Pattern {
	p, err := Parse(sig)
	if err != nil {
		panic(err)
	}
	return p
}

// Decode converts the marker-byte encoding used by older signature tables:
// '_' followed by a byte is an exact byte, '&' followed by a byte is a mask
// byte, any other byte is a wildcard and 0x00 terminates the pattern.
func Decode(raw []byte) (Pattern, error) {
	var p Pattern
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case 0x00:
			if len(p) == 0 {
				return nil, errEmptyPattern
			}
			return p, nil
		case '_', '&':
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("marker %q at offset %d has no operand", raw[i], i)
			}
			kind := Exact
			if raw[i] == '&' {
				kind = Mask
			}
			p = append(p, Element{Kind: kind, Value: raw[i+1]})
			i++
		default:
			p = append(p, Element{Kind: Any})
		}
	}
	return nil, errors.New("pattern is not terminated")
}

// Find returns the lowest offset of buf at which every element of p
// matches. Windows that would extend past the end of buf never match.
func Find(p Pattern, buf []byte) (int, bool) {
	if len(p) == 0 {
		return 0, len(buf) > 0
	}
	last := len(buf) - len(p)
	first := p[0]
	for off := 0; off <= last; off++ {
		if !first.Match(buf[off]) {
			continue
		}
		if matchAt(p, buf[off:]) {
			return off, true
		}
	}
	return -1, false
}

func matchAt(p Pattern, window []byte) bool {
	for i := range p {
		if !p[i].Match(window[i]) {
			return false
		}
	}
	return true
}

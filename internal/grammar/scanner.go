package grammar

import (
	"strconv"
	"strings"
)

// maxDigits bounds numeric fields so that parsing never overflows int.
const maxDigits = 9

// head is the module#instance.parameter part of a command.
type head struct {
	module     string
	instance   int
	parameter  string
	jackPrefix bool // parameter starts with inputJack#
	jack       int  // fallback jack number, 0 if not a valid fallback
}

type scanner struct {
	in  string
	pos int
}

func (s *scanner) done() bool {
	return s.pos == len(s.in)
}

func (s *scanner) consume(c byte) bool {
	if s.pos < len(s.in) && s.in[s.pos] == c {
		s.pos++
		return true
	}
	return false
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.in) {
		switch s.in[s.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			s.pos++
		default:
			return
		}
	}
}

// number reads one or more decimal digits. overflow is set when there are more
// than maxDigits significant digits; the whole run is still consumed.
func (s *scanner) number() (n int, overflow bool, ok bool) {
	start := s.pos
	significant := 0
	for s.pos < len(s.in) && isDigit(s.in[s.pos]) {
		if n > 0 || s.in[s.pos] != '0' {
			significant++
		}
		if significant <= maxDigits {
			n = n*10 + int(s.in[s.pos]-'0')
		} else {
			overflow = true
		}
		s.pos++
	}
	return n, overflow, s.pos > start
}

// variable reads module#instance.parameter. Module letters are folded to
// lowercase; the parameter keeps its case except for the inputJack prefix.
func (s *scanner) variable() (head, bool) {
	var h head

	start := s.pos
	for s.pos < len(s.in) && isAlnum(s.in[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		return h, false
	}
	h.module = strings.ToLower(s.in[start:s.pos])

	if !s.consume('#') {
		return h, false
	}
	instance, overflow, ok := s.number()
	if !ok || overflow {
		return h, false
	}
	h.instance = instance

	if !s.consume('.') {
		return h, false
	}
	start = s.pos
	for s.pos < len(s.in) && (isAlnum(s.in[s.pos]) || s.in[s.pos] == '#') {
		s.pos++
	}
	if s.pos == start {
		return h, false
	}
	h.parameter = s.in[start:s.pos]

	if len(h.parameter) >= len(InputJackPrefix) && strings.EqualFold(h.parameter[:len(InputJackPrefix)], InputJackPrefix) {
		h.jackPrefix = true
		h.jack = jackNumber(h.parameter[len(InputJackPrefix):])
		if h.jack > 0 {
			h.parameter = InputJackPrefix + strconv.Itoa(h.jack)
		}
	}

	return h, true
}

// jackNumber returns N for an all-digit suffix with N >= 1, else 0.
func jackNumber(s string) int {
	if s == "" || len(s) > maxDigits {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c)
}

package listing

import (
	"strings"
	"unicode"
)

// isSpace reports whether c is a separator in the identity scheme: the
// ECMAScript whitespace and line terminator set. It differs from
// unicode.IsSpace on U+FEFF (a separator here) and U+0085 (dropped here).
func isSpace(c rune) bool {
	switch c {
	case '\t', '\n', '\v', '\f', '\r', ' ',
		'\u00a0', '\u1680', '\u2028', '\u2029', '\u202f', '\u205f', '\u3000', '\ufeff':
		return true
	}
	return c >= '\u2000' && c <= '\u200a'
}

// Identity is the stable key used to correlate a listing across polls.
type Identity string

// accented lists the lowercase Latin letters kept besides [A-Za-z0-9_].
// Uppercase forms are accepted through unicode.ToLower.
const accented = "àáâãäåæçèéêëìíîïðñòóôõöøùúûüýþÿ"

// Resolve derives the identity of r from its title and address.
//
// Both fields are trimmed and joined with "_", whitespace runs collapse to a
// single "_", and every rune outside the allow-list is dropped. Resolve never
// fails: empty fields still produce a deterministic (degenerate) identity.
// Distinct listings sharing title and address collide.
func Resolve(r Record) Identity {
	joined := strings.TrimFunc(r.Title, isSpace) + "_" + strings.TrimFunc(r.Address, isSpace)

	var b strings.Builder
	b.Grow(len(joined))
	inSpace := false
	for _, c := range joined {
		if isSpace(c) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		if allowed(c) {
			b.WriteRune(c)
		}
	}
	return Identity(b.String())
}

func allowed(c rune) bool {
	switch {
	case c == '_':
		return true
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c < 0x80:
		return false
	}
	return strings.ContainsRune(accented, unicode.ToLower(c))
}

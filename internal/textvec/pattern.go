package textvec

import (
	"fmt"
	"regexp"
	"strings"
)

// Word and digit classes with Unicode semantics. RE2's \w, \d and \s are
// ASCII-only.
const (
	wordClass  = `\p{L}\p{N}_`
	digitClass = `\p{Nd}`
	spaceClass = `\s\p{Z}`
)

// knownPatterns maps exporter token patterns that rely on \b to equivalent
// RE2 patterns. A greedy run of word characters is already bounded by
// non-word characters, so the boundaries can be dropped.
var knownPatterns = map[string]string{
	`\b\w\w+\b`: DefaultTokenPattern,
	`\b\w+\b`:   `[` + wordClass + `]+`,
}

// compileTokenPattern compiles a token pattern written for a Unicode-aware
// regex engine. A leading (?u) flag is dropped and \w, \W, \d, \D and \s are
// rewritten to Unicode classes. Other uses of \b or \B are rejected: RE2
// only supports ASCII word boundaries.
func compileTokenPattern(pattern string) (*regexp.Regexp, error) {
	p := strings.TrimPrefix(pattern, "(?u)")
	if rewritten, ok := knownPatterns[p]; ok {
		return regexp.Compile(rewritten)
	}

	var b strings.Builder
	inClass := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '\\' && i+1 < len(p) {
			i++
			if err := writeEscape(&b, p[i], inClass); err != nil {
				return nil, fmt.Errorf("%w in %q", err, pattern)
			}
			continue
		}
		switch c {
		case '[':
			inClass = true
		case ']':
			inClass = false
		}
		b.WriteByte(c)
	}
	return regexp.Compile(b.String())
}

func writeEscape(b *strings.Builder, e byte, inClass bool) error {
	class := func(body string, negate bool) {
		switch {
		case inClass:
			b.WriteString(body)
		case negate:
			b.WriteString("[^" + body + "]")
		default:
			b.WriteString("[" + body + "]")
		}
	}
	switch e {
	case 'w':
		class(wordClass, false)
	case 's':
		class(spaceClass, false)
	case 'W', 'S':
		if inClass {
			return fmt.Errorf(`negated class \%c inside brackets is not supported`, e)
		}
		if e == 'W' {
			class(wordClass, true)
		} else {
			class(spaceClass, true)
		}
	case 'd':
		b.WriteString(digitClass)
	case 'D':
		b.WriteString(`\P{Nd}`)
	case 'b', 'B':
		return fmt.Errorf(`word boundary \%c is ASCII-only in RE2`, e)
	default:
		b.WriteByte('\\')
		b.WriteByte(e)
	}
	return nil
}

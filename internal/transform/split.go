package transform

import "strings"

// SplitStatements strips comments (--, # and /* */) from a SQL script and
// splits it into individual statements. Semicolons inside quoted strings,
// quoted identifiers and dollar-quoted bodies do not end a statement.
// Returned statements are trimmed and carry no trailing semicolon.
func SplitStatements(script string) []string {
	var (
		stmts []string
		b     strings.Builder
		quote byte
	)

	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			stmts = append(stmts, s)
		}
		b.Reset()
	}

	n := len(script)
	for i := 0; i < n; i++ {
		c := script[i]

		if quote != 0 {
			b.WriteByte(c)
			switch {
			case c == '\\' && quote != '`' && i+1 < n:
				b.WriteByte(script[i+1])
				i++
			case c == quote && i+1 < n && script[i+1] == quote:
				// Doubled quote is an escaped quote character.
				b.WriteByte(script[i+1])
				i++
			case c == quote:
				quote = 0
			}
			continue
		}

		switch {
		case c == '-' && i+1 < n && script[i+1] == '-', c == '#' && hashComment(script, i):
			for i < n && script[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < n && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i += 2 + end + 1
			}
			b.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				end := strings.Index(script[i+len(tag):], tag)
				if end < 0 {
					b.WriteString(script[i:])
					i = n
				} else {
					stop := i + len(tag) + end + len(tag)
					b.WriteString(script[i:stop])
					i = stop - 1
				}
				continue
			}
			b.WriteByte(c)
		case c == ';':
			flush()
		default:
			b.WriteByte(c)
		}
	}
	flush()

	return stmts
}

// hashComment reports whether the '#' at i opens a MySQL line comment: it is
// followed by whitespace or the end of input, or is the first non-blank
// character of its line. Other uses, such as Postgres' #> operator, are
// left alone.
func hashComment(script string, i int) bool {
	if i+1 == len(script) {
		return true
	}
	switch script[i+1] {
	case ' ', '\t', '\r', '\n':
		return true
	}
	for j := i - 1; j >= 0; j-- {
		switch script[j] {
		case ' ', '\t':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return true
}

// dollarTag returns the opening $tag$ at the start of s, if any.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

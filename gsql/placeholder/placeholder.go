// Package placeholder rewrites the canonical $1..$N parameter markers of a
// statement into the marker style a backend understands.
package placeholder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Style selects the marker syntax produced by Rewrite.
type Style int

const (
	// StyleDollar keeps $1..$N as is (PostgreSQL).
	StyleDollar Style = iota
	// StyleNumbered produces ?1..?N, which keeps repeated indices native (SQLite).
	StyleNumbered
	// StyleQuestion produces bare ? markers plus an index map (MySQL).
	// Backslash escapes are honoured in quoted strings and backtick
	// identifiers are skipped, as in MySQL's default SQL mode.
	StyleQuestion
)

func (s Style) String() string {
	switch s {
	case StyleDollar:
		return "dollar"
	case StyleNumbered:
		return "numbered"
	case StyleQuestion:
		return "question"
	default:
		return "Style(" + strconv.Itoa(int(s)) + ")"
	}
}

// ErrUnterminated is wrapped by the SyntaxError returned for an unclosed
// quote or comment.
var ErrUnterminated = errors.New("placeholder: unterminated literal")

// ErrBadIndex is wrapped by the SyntaxError returned for $0.
var ErrBadIndex = errors.New("placeholder: parameter index must start at 1")

// SyntaxError reports where scanning failed.
type SyntaxError struct {
	Offset int
	What   string
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("placeholder: %s at offset %d", e.What, e.Offset)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Rewritten is the result of a rewrite.
type Rewritten struct {
	SQL string
	// Indices holds, for StyleQuestion only, the 1-based logical index of
	// every marker occurrence in order. A statement "a=$2 OR b=$1 OR c=$2"
	// yields [2 1 2].
	Indices []int
	// NumParams is the highest index referenced.
	NumParams int
}

// Rewrite scans sql once and substitutes every $n outside string literals,
// quoted identifiers, comments and dollar-quoted bodies. E'...' strings
// take backslash escapes in every style.
func Rewrite(sql string, style Style) (Rewritten, error) {
	var res Rewritten
	out := make([]byte, 0, len(sql)+8)
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch c {
		case '\'':
			backslash := style == StyleQuestion || hasEscapePrefix(sql, i)
			j, err := skipQuoted(sql, i, '\'', "single-quoted string", backslash)
			if err != nil {
				return Rewritten{}, err
			}
			out = append(out, sql[i:j]...)
			i = j
			continue
		case '"':
			j, err := skipQuoted(sql, i, '"', "double-quoted identifier", style == StyleQuestion)
			if err != nil {
				return Rewritten{}, err
			}
			out = append(out, sql[i:j]...)
			i = j
			continue
		case '`':
			if style != StyleQuestion {
				break
			}
			j, err := skipQuoted(sql, i, '`', "backtick-quoted identifier", false)
			if err != nil {
				return Rewritten{}, err
			}
			out = append(out, sql[i:j]...)
			i = j
			continue
		case '-':
			if strings.HasPrefix(sql[i:], "--") {
				j := skipLineComment(sql, i+2)
				out = append(out, sql[i:j]...)
				i = j
				continue
			}
		case '/':
			if strings.HasPrefix(sql[i:], "/*") {
				j, err := skipBlockComment(sql, i)
				if err != nil {
					return Rewritten{}, err
				}
				out = append(out, sql[i:j]...)
				i = j
				continue
			}
		case '$':
			if i > 0 && isIdentChar(sql[i-1]) {
				break
			}
			if j, ok, err := skipDollarQuoted(sql, i); ok {
				if err != nil {
					return Rewritten{}, err
				}
				out = append(out, sql[i:j]...)
				i = j
				continue
			}
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			if j == i+1 {
				break
			}
			n, err := strconv.Atoi(sql[i+1 : j])
			if err != nil || n == 0 {
				return Rewritten{}, &SyntaxError{Offset: i, What: "invalid parameter " + sql[i:j], Err: ErrBadIndex}
			}
			if n > res.NumParams {
				res.NumParams = n
			}
			switch style {
			case StyleNumbered:
				out = append(out, '?')
				out = strconv.AppendInt(out, int64(n), 10)
			case StyleQuestion:
				out = append(out, '?')
				res.Indices = append(res.Indices, n)
			default:
				out = append(out, sql[i:j]...)
			}
			i = j
			continue
		}
		out = append(out, c)
		i++
	}
	res.SQL = string(out)
	return res, nil
}

// skipQuoted returns the offset just past the literal opened at s[i].
// A doubled quote character is an escape, and so is a backslash when
// backslash is set.
func skipQuoted(s string, i int, q byte, what string, backslash bool) (int, error) {
	start := i
	i++
	for i < len(s) {
		if backslash && s[i] == '\\' {
			i += 2
			continue
		}
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, &SyntaxError{Offset: start, What: "unterminated " + what, Err: ErrUnterminated}
}

// hasEscapePrefix reports whether the quote at s[i] opens a PostgreSQL
// escape string, E'...'.
func hasEscapePrefix(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentChar(s[i-2])
}

func skipLineComment(s string, i int) int {
	for i < len(s) {
		if s[i] == '\n' {
			return i + 1
		}
		i++
	}
	return i
}

func skipBlockComment(s string, start int) (int, error) {
	for i := start + 2; i < len(s)-1; i++ {
		if s[i] == '*' && s[i+1] == '/' {
			return i + 2, nil
		}
	}
	return 0, &SyntaxError{Offset: start, What: "unterminated block comment", Err: ErrUnterminated}
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$. Tags never start with
// a digit, so $1 is never mistaken for one.
func skipDollarQuoted(s string, i int) (int, bool, error) {
	j := i + 1
	if j < len(s) && isDigit(s[j]) {
		return 0, false, nil
	}
	for j < len(s) && isIdentChar(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	end := strings.Index(s[j+1:], tag)
	if end < 0 {
		return 0, true, &SyntaxError{Offset: i, What: "unterminated dollar-quoted string", Err: ErrUnterminated}
	}
	return j + 1 + end + len(tag), true, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentChar(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

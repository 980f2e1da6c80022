// Package wire implements the RTS2 line protocol codec: splitting a TCP
// byte stream into newline-terminated messages, tokenizing a message into
// whitespace-separated fields (respecting double-quoted strings), and
// rendering protocol lines (M/F/V/S/B/R/T and the +/- response lines).
package wire

import (
	"strconv"
	"strings"
)

// Splitter accumulates bytes from a socket and yields complete lines,
// retaining any partial trailing line across calls. It owns no state
// beyond the buffer itself.
type Splitter struct {
	buf []byte
}

// Feed appends data to the internal buffer and returns every complete
// line found (without the trailing "\n"). A partial trailing line, if
// any, is retained for the next call.
func (s *Splitter) Feed(data []byte) []string {
	s.buf = append(s.buf, data...)

	var lines []string
	for {
		idx := indexByte(s.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(s.buf[:idx])
		line = strings.TrimSuffix(line, "\r")
		lines = append(lines, line)
		s.buf = s.buf[idx+1:]
	}
	return lines
}

// Pending returns the bytes currently buffered as an incomplete line.
func (s *Splitter) Pending() []byte {
	return s.buf
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// SplitFields tokenizes a protocol line into whitespace-separated fields,
// treating a double-quoted run as a single field (preserving internal
// whitespace) and unescaping nothing else — the wire format carries no
// escape sequences inside quotes, only literal characters up to the
// closing quote.
func SplitFields(line string) []string {
	var fields []string
	i := 0
	n := len(line)
	for i < n {
		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n {
			break
		}
		if line[i] == '"' {
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				// Unterminated quote: take the rest of the line verbatim,
				// per the "pass malformed input through" codec contract.
				fields = append(fields, line[i+1:])
				i = n
				break
			}
			fields = append(fields, line[i+1:i+1+end])
			i = i + 1 + end + 1
			continue
		}
		start := i
		for i < n && !isSpace(line[i]) {
			i++
		}
		fields = append(fields, line[start:i])
	}
	return fields
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// Quote wraps s in double quotes. The protocol's string fields (value
// names, descriptions, labels, free text) are always sent quoted.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	b.WriteString(s)
	b.WriteByte('"')
	return b.String()
}

// JoinMessage joins a token and its already-rendered parameters into a
// single wire line (without trailing newline).
func JoinMessage(token string, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, token)
	parts = append(parts, params...)
	return strings.Join(parts, " ")
}

// IsResponseLine reports whether line is a "+"/"-" response line rather
// than a command or notification.
func IsResponseLine(line string) bool {
	return strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-")
}

// ParseResponse parses a response line into (success, code, message).
func ParseResponse(line string) (success bool, code int, message string) {
	if line == "" {
		return false, -1, ""
	}
	success = line[0] == '+'
	rest := strings.TrimSpace(line[1:])
	sp := strings.IndexByte(rest, ' ')
	codeStr := rest
	if sp >= 0 {
		codeStr = rest[:sp]
		message = strings.TrimSpace(rest[sp+1:])
	}
	c, err := strconv.Atoi(codeStr)
	if err != nil {
		c = -1
	} else if !success {
		c = -c
	}
	return success, c, message
}

// OKResponse renders a success reply line.
func OKResponse(text string) string {
	if text == "" {
		return "+0"
	}
	return "+0 " + text
}

// ErrResponse renders an error reply line.
func ErrResponse(text string) string {
	if text == "" {
		return "-1"
	}
	return "-1 " + text
}

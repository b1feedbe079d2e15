package pdf

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode/utf16"
)

// ParseContentStream returns the text shown by the text operators (Tj, TJ, ' and ") of a
// page content stream. Positioning operators become separators. Strings are decoded as
// UTF-16BE when they carry a byte order mark and as PDFDocEncoding (Latin-1) otherwise;
// glyph IDs of CID fonts are not mapped, which the quality evaluator then scores as garbage.
func ParseContentStream(data []byte) string {
	var (
		sb      strings.Builder
		pending []string
	)
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	space := func() {
		s := sb.String()
		if len(s) > 0 && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
			sb.WriteByte(' ')
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case isWhite(c):
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteral(data[i:])
			pending = append(pending, s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			end := bytes.IndexByte(data[i:], '>')
			if end < 0 {
				i = len(data)
				break
			}
			pending = append(pending, decodeHex(data[i+1:i+end]))
			i += end + 1
		case c == '[' || c == ']' || c == '{' || c == '}':
			i++
		case c == '/':
			i++
			for i < len(data) && !isWhite(data[i]) && !isDelim(data[i]) {
				i++
			}
		case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
			for i < len(data) && !isWhite(data[i]) && !isDelim(data[i]) {
				i++
			}
		default:
			start := i
			for i < len(data) && !isWhite(data[i]) && !isDelim(data[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			switch string(data[start:i]) {
			case "Tj", "TJ":
				sb.WriteString(strings.Join(pending, ""))
			case "'", `"`:
				newline()
				sb.WriteString(strings.Join(pending, ""))
			case "T*", "ET":
				newline()
			case "Td", "TD", "Tm":
				space()
			case "ID":
				i = skipInlineImage(data, i)
			}
			pending = pending[:0]
		}
	}
	return strings.TrimSpace(sb.String())
}

// readLiteral decodes a parenthesised string starting at data[0] and returns it together
// with the number of bytes consumed. Balanced nested parentheses are part of the string.
func readLiteral(data []byte) (string, int) {
	var (
		out   []byte
		depth = 0
		i     = 0
	)
	for ; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '(':
			depth++
			if depth == 1 {
				continue
			}
		case c == ')':
			depth--
			if depth == 0 {
				return decodeBytes(out), i + 1
			}
		case c == '\\' && i+1 < len(data):
			i++
			switch e := data[i]; e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\n':
			case '\r':
				if i+1 < len(data) && data[i+1] == '\n' {
					i++
				}
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						v = v*8 + int(data[i]-'0')
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
			continue
		}
		out = append(out, c)
	}
	return decodeBytes(out), i
}

func decodeHex(raw []byte) string {
	clean := make([]byte, 0, len(raw)+1)
	for _, c := range raw {
		if !isWhite(c) {
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	b := make([]byte, len(clean)/2)
	if _, err := hex.Decode(b, clean); err != nil {
		return ""
	}
	return decodeBytes(b)
}

func decodeBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		b = b[2:]
		units := make([]uint16, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// skipInlineImage advances past inline image data that follows an ID operator.
func skipInlineImage(data []byte, i int) int {
	for j := i; j+2 < len(data); j++ {
		if isWhite(data[j]) && data[j+1] == 'E' && data[j+2] == 'I' && (j+3 == len(data) || isWhite(data[j+3])) {
			return j + 3
		}
	}
	return len(data)
}

func isWhite(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

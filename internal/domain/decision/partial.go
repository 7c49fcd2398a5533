package decision

import (
	"encoding/json"
	"strings"
)

// Complete returns the first top-level JSON object in text when its closing
// brace has been seen and the object is valid. Prose before the object is skipped.
func Complete(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}
	end, closed := scanObject(text[start:])
	if !closed {
		return nil, false
	}
	obj := text[start : start+end]
	if !json.Valid([]byte(obj)) {
		return nil, false
	}
	return json.RawMessage(obj), true
}

// scanObject walks an object starting at s[0] == '{' and returns the index
// just past its matching brace.
func scanObject(s string) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// Repair closes a truncated object so it can be parsed. It first closes the
// text as is; when that is not valid JSON it cuts back to earlier member
// boundaries until a valid object remains.
func Repair(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}
	s := text[start:]
	if obj, ok := Complete(s); ok {
		return obj, true
	}

	cuts := append(boundaries(s), len(s))
	for i := len(cuts) - 1; i >= 0; i-- {
		candidate := closeOpen(s[:cuts[i]])
		if json.Valid(candidate) {
			return candidate, true
		}
	}
	return nil, false
}

// boundaries returns cut positions outside strings: before each comma and
// just after each opening bracket, in ascending order.
func boundaries(s string) []int {
	var cuts []int
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			cuts = append(cuts, i)
		case '{', '[':
			cuts = append(cuts, i+1)
		}
	}
	return cuts
}

// closeOpen terminates an open string, drops a dangling separator and
// appends the closers for every open bracket.
func closeOpen(prefix string) []byte {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := []byte(prefix)
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out = append(out, '"')
	} else {
		out = []byte(strings.TrimRight(prefix, " \t\r\n,:"))
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return out
}

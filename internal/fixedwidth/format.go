package fixedwidth

import (
	"strings"
	"unicode/utf8"
)

// Format slices line into the schema's columns and joins the trimmed,
// non-empty segments into a one-line address.
//
// Each rule consumes exactly Width characters, so a short line simply yields
// empty trailing segments. An empty segment contributes no text of its own
// and the output never ends with a delimiter.
//
// Between two non-empty segments the widest delimiter among the earlier
// segment's rule and any empty rules in between is used. So an empty rule's
// delimiter does appear when it is wider than the earlier segment's: with
// A " ", B ", " and an empty B, A and C are joined by ", ". This keeps
// "HTS # 22, SAINT PAUL" and "LN, MAPLEWOOD" right under one schema. Width
// is counted in characters and a tie keeps the earlier delimiter.
func Format(line string, schema Schema) string {
	var b strings.Builder
	b.Grow(len(line))

	pending := ""
	open := false // a non-empty segment has been written and awaits its delimiter
	rest := line

	for _, rule := range schema.Rules {
		var raw string
		raw, rest = take(rest, rule.Width)
		segment := strings.TrimSpace(raw)

		if segment == "" {
			if open && utf8.RuneCountInString(rule.Delimiter) > utf8.RuneCountInString(pending) {
				pending = rule.Delimiter
			}
			continue
		}

		if open {
			b.WriteString(pending)
		}
		b.WriteString(segment)
		pending = rule.Delimiter
		open = true
	}

	return b.String()
}

// take splits off the first n characters of s. It never fails on short input.
func take(s string, n int) (head, tail string) {
	if n <= 0 {
		return "", s
	}
	i := 0
	for count := 0; count < n && i < len(s); count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], s[i:]
}

// Segments returns the trimmed segment for every rule, keyed by position.
// Useful for inspecting how a line maps onto a schema.
func Segments(line string, schema Schema) []string {
	out := make([]string, len(schema.Rules))
	rest := line
	for i, rule := range schema.Rules {
		var raw string
		raw, rest = take(rest, rule.Width)
		out[i] = strings.TrimSpace(raw)
	}
	return out
}

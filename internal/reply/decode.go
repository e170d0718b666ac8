// Package reply unpacks the payload returned by the analysis service into reply segments.
//
// The service may pack several logical replies into one response by embedding each of them as a quoted
// srcdoc attribute inside otherwise discarded markup. A response without markup is a single plain-text
// reply.
package reply

import (
	"regexp"
	"strings"
)

// Attribute values carry quotes as &quot;, so the first literal quote always closes the value.
var srcdocPattern = regexp.MustCompile(`srcdoc="([^"]*)"`)

// entities are replaced in this exact order, so "&amp;lt;" ends up as "<".
var entities = [][2]string{
	{"&quot;", `"`},
	{"&#39;", "'"},
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
}

// Decode splits raw into its reply segments, in order of appearance. It never fails: if raw has no markup
// delimiters, or has some but no embedded segments, the whole payload is returned as the only segment.
func Decode(raw string) []string {
	if !strings.ContainsAny(raw, "<>") {
		return []string{raw}
	}

	matches := srcdocPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return []string{raw}
	}

	segments := make([]string, 0, len(matches))
	for _, m := range matches {
		segments = append(segments, unescape(m[1]))
	}
	return segments
}

func unescape(s string) string {
	for _, e := range entities {
		s = strings.ReplaceAll(s, e[0], e[1])
	}
	return s
}

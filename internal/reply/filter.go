package reply

import (
	"regexp"
	"strings"
)

// MessageFilter rejects empty messages and platform/system markers.
// Latin-word terms such as "bot" match whole words only; everything else
// matches as a substring.
type MessageFilter struct {
	denylist []string
	words    *regexp.Regexp
}

var latinWordRe = regexp.MustCompile(`^[a-z0-9]+$`)

func NewMessageFilter(denylist []string) *MessageFilter {
	f := &MessageFilter{}
	var words []string
	for _, d := range denylist {
		d = strings.ToLower(strings.TrimSpace(d))
		switch {
		case d == "":
		case latinWordRe.MatchString(d):
			words = append(words, regexp.QuoteMeta(d))
		default:
			f.denylist = append(f.denylist, d)
		}
	}
	if len(words) > 0 {
		f.words = regexp.MustCompile(`\b(?:` + strings.Join(words, "|") + `)\b`)
	}
	return f
}

// IsValid reports whether text should enter the pipeline at all.
func (f *MessageFilter) IsValid(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, d := range f.denylist {
		if strings.Contains(t, d) {
			return false
		}
	}
	return f.words == nil || !f.words.MatchString(t)
}

// normalizeText is the comparison form used for duplicate detection.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

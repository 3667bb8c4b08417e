// Package mood derives mood tags from free-text image captions.
package mood

import "strings"

const (
	// MaxTags bounds the size of a derived tag set.
	MaxTags = 6
	// MoodsPerKeyword is how many moods a matched keyword contributes.
	MoodsPerKeyword = 2
)

// DeriveTags maps a caption to between 1 and MaxTags unique mood tags.
//
// Keywords match as plain substrings of the lower-cased caption, so "red"
// also matches inside "colored". Tags keep first-matched-keyword order and
// truncation keeps the earliest ones. When nothing matches, the first
// fallback tier with a hit is used, and the default set otherwise.
func (l *Lexicon) DeriveTags(caption string) []string {
	text := strings.ToLower(caption)

	tags := make([]string, 0, MaxTags)
	seen := make(map[string]struct{}, MaxTags)
	add := func(moods []string) {
		for _, m := range moods {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			tags = append(tags, m)
		}
	}

	for _, e := range l.entries {
		if strings.Contains(text, e.Keyword) {
			add(e.Moods[:MoodsPerKeyword])
		}
	}
	if len(tags) == 0 {
		add(l.fallback(text))
	}
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}
	return tags
}

func (l *Lexicon) fallback(text string) []string {
	for _, f := range l.fallbacks {
		for _, w := range f.Words {
			if strings.Contains(text, w) {
				return f.Tags
			}
		}
	}
	return l.def
}

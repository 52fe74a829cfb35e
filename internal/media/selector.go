package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Audio track languages are tags such as "en", "pt-BR" or "zh-Hans".
var languageTag = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{1,8}){0,3}$`)

// ValidLanguage reports whether lang is a language tag that can be embedded
// in a selector filter.
func ValidLanguage(lang string) bool {
	return languageTag.MatchString(lang)
}

// LanguageSelector narrows every bestaudio alternative in sel to the given
// audio track language, keeping the original alternatives as fallbacks. An
// empty lang returns sel unchanged.
func LanguageSelector(sel, lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return sel, nil
	}
	if !ValidLanguage(lang) {
		return "", fmt.Errorf("invalid audio language %q: use a language code such as en or pt-BR", lang)
	}
	alts := strings.Split(sel, "/")
	narrowed := make([]string, 0, len(alts))
	for _, alt := range alts {
		if strings.Contains(alt, "bestaudio") {
			narrowed = append(narrowed, strings.Replace(alt, "bestaudio", "bestaudio[language="+lang+"]", 1))
		}
	}
	if len(narrowed) == 0 {
		return sel, nil
	}
	return strings.Join(append(narrowed, alts...), "/"), nil
}

// Selector is the subset of a format selector understood by in-process
// extractors that cannot evaluate selector expressions themselves.
type Selector struct {
	MaxHeight int
	AudioOnly bool
	Language  string
	Ext       string
}

var (
	heightFilter   = regexp.MustCompile(`\[height<=(\d+)\]`)
	languageFilter = regexp.MustCompile(`\[language=([^\]]+)\]`)
	extFilter      = regexp.MustCompile(`\[ext=([a-z0-9]+)\]`)
)

// ParseSelector extracts the height cap, audio-only intent, language and
// container filters from the first alternative of sel.
func ParseSelector(sel string) Selector {
	first := sel
	if i := strings.Index(sel, "/"); i >= 0 {
		first = sel[:i]
	}
	var s Selector
	if m := heightFilter.FindStringSubmatch(first); m != nil {
		s.MaxHeight, _ = strconv.Atoi(m[1])
	}
	if m := languageFilter.FindStringSubmatch(first); m != nil {
		s.Language = m[1]
	}
	if m := extFilter.FindStringSubmatch(first); m != nil {
		s.Ext = m[1]
	}
	s.AudioOnly = strings.HasPrefix(first, "bestaudio") && !strings.Contains(first, "+")
	return s
}

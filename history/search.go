package history

import (
	"regexp"
	"strings"
)

var (
	tokenRe = regexp.MustCompile(`[^\s"']+|"([^"]*)"|'([^']*)'`)
	wordRe  = regexp.MustCompile(`^[\p{L}\p{N}]+$`)
)

// fieldAliases maps user-facing filter prefixes to turns_fts columns.
var fieldAliases = map[string]string{
	"user":     "prompt",
	"prompt":   "prompt",
	"final":    "final",
	"answer":   "final",
	"chairman": "final",
	"council":  "council",
}

// ParseQuery converts user input into FTS5 syntax.
// Supports: "phrase search", user:term, final:term, council:term
func ParseQuery(input string) string {
	var parts []string

	for _, token := range tokenRe.FindAllString(strings.TrimSpace(input), -1) {
		if strings.HasPrefix(token, "\"") || strings.HasPrefix(token, "'") {
			if phrase := strings.Trim(token, `"'`); phrase != "" {
				parts = append(parts, quote(phrase))
			}
			continue
		}

		if idx := strings.Index(token, ":"); idx > 0 {
			if column, ok := fieldAliases[strings.ToLower(token[:idx])]; ok {
				if term := token[idx+1:]; term != "" {
					parts = append(parts, column+":"+ftsTerm(term))
				}
				continue
			}
		}

		parts = append(parts, ftsTerm(token))
	}

	return strings.Join(parts, " AND ")
}

// ftsTerm prefix-matches plain words and quotes anything FTS5 would parse as
// syntax.
func ftsTerm(token string) string {
	if !wordRe.MatchString(token) {
		return quote(token)
	}
	switch strings.ToUpper(token) {
	case "AND", "OR", "NOT", "NEAR":
		return quote(token)
	}
	if len([]rune(token)) > 3 {
		return token + "*"
	}
	return token
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

package utils

import "strings"

// LikeEscape is appended after a LIKE placeholder bound to ContainsPattern.
const LikeEscape = ` ESCAPE '\'`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern lowercases term and wraps it for a substring LIKE, with
// the wildcard characters it contains matched literally.
func ContainsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
}

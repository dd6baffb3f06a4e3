package utils

import "strings"

// GlobToLike translates a shell-style name glob into a SQL LIKE pattern.
// A pattern without any wildcard matches as a prefix.
func GlobToLike(glob string) string {
	like := strings.ReplaceAll(glob, "*", "%")
	if !strings.Contains(like, "%") {
		like += "%"
	}
	return like
}

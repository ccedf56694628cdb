// Package fsname turns arbitrary titles and account names into portable file names.
package fsname

import (
	"strings"
	"unicode/utf8"
)

const maxLength = 200

var illegal = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// Sanitize replaces characters Windows rejects, drops control characters, trims
// surrounding spaces and dots and caps the length. Empty results become "untitled".
func Sanitize(name string) string {
	name = illegal.Replace(name)

	name = strings.Map(func(r rune) rune {
		if r < 32 || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)

	name = strings.Trim(name, ". ")

	if len(name) > maxLength {
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimRight(name[:cut], ". ")
	}

	if name == "" {
		return "untitled"
	}
	return name
}

package dispatch

import "strings"

func humanize(intentID string) string {
	return strings.ReplaceAll(intentID, "_", " ")
}

func joinAnd(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	}
	return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
}

package domain

import (
	"regexp"
	"strings"
)

// Lore is stored as one fact per line. These helpers treat it as an ordered,
// append-only sequence: facts can be added and read, never removed.

// fanNameRE matches the "Fan Name: <value>" convention used to promote a
// learned name into Fan.Name.
var fanNameRE = regexp.MustCompile(`Fan Name: ([^\n]+)`)

// AppendFact returns previous with fact added as a new trailing line. An empty
// fact leaves previous unchanged (apart from trimming).
func AppendFact(previous, fact string) string {
	fact = strings.TrimSpace(fact)
	previous = strings.TrimSpace(previous)
	if fact == "" {
		return previous
	}
	if previous == "" {
		return fact
	}
	return previous + "\n" + fact
}

// Facts splits lore into its non-empty lines, in insertion order.
func Facts(lore string) []string {
	lines := strings.Split(lore, "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if t := strings.TrimSpace(ln); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// FanNameFromLore returns the first "Fan Name:" value found in lore.
func FanNameFromLore(lore string) (string, bool) {
	m := fanNameRE.FindStringSubmatch(lore)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

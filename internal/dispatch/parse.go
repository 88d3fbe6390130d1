package dispatch

import (
	"regexp"
	"strconv"
	"strings"
)

var multiplyRE = regexp.MustCompile(`^\{(\d+)x\}\s*(.*)$`)

// ParseTasks splits a semicolon-separated task list into titles. A task
// may carry a repeat prefix: "{3x}dishes" expands to three "dishes"
// entries. Empty segments are skipped.
func ParseTasks(raw string) []string {
	var titles []string
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		count := 1
		if m := multiplyRE.FindStringSubmatch(part); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				count = n
			}
			part = strings.TrimSpace(m[2])
			if part == "" {
				continue
			}
		}
		for i := 0; i < count; i++ {
			titles = append(titles, part)
		}
	}
	return titles
}

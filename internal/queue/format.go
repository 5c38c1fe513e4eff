package queue

import (
	"strconv"
	"strings"
	"time"
)

// formatDuration renders d as seconds with three decimals from one second
// up, and as milliseconds with two decimals below. Thousands are separated
// by a space.
func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return groupThousands(strconv.FormatFloat(d.Seconds(), 'f', 3, 64)) + " s"
	}
	ms := float64(d) / float64(time.Millisecond)
	return groupThousands(strconv.FormatFloat(ms, 'f', 2, 64)) + " ms"
}

func groupThousands(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

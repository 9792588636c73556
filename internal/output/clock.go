package output

import (
	"github.com/JakeFAU/github-crawler/internal/clock"
	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// ClockOrSystem returns c, or the system clock when c is nil.
func ClockOrSystem(c crawler.Clock) crawler.Clock {
	if c == nil {
		return clock.New()
	}
	return c
}

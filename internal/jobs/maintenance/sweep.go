package maintenance

import (
	"time"

	"github.com/charmbracelet/log"
)

// Sweeper forgets in-memory state that has been idle past its window, such as
// rate limit buckets and reporter activity keyed by reporter id.
type Sweeper interface {
	Sweep(now time.Time) int
}

func sweepIdle(now time.Time, sweepers []Sweeper) {
	removed := 0
	for _, s := range sweepers {
		if s != nil {
			removed += s.Sweep(now)
		}
	}
	if removed > 0 {
		log.Debug("Idle reporter state swept", "removed", removed)
	}
}

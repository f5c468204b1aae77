package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar is a tracker of the progress of one long-running phase,
// such as the victim-thread sweep or one step's bank floods.
type ProgressBar struct {
	sync.Mutex
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
}

// IncrementFinished adds a certain amount to the finished count.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// Reset restarts the bar with a new total.
func (b *ProgressBar) Reset(total uint64) {
	b.Lock()
	defer b.Unlock()

	b.Total = total
	b.Finished = 0
	b.StartTime = time.Now()
}

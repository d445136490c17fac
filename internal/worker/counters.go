package worker

import "sync"

// Counters are the process-global scrape statistics shared by every worker
// goroutine and read by the operator surface.
type Counters struct {
	mu                  sync.Mutex
	langMismatch        int
	langMismatchBlocked int
	scraped             int
}

func NewCounters() *Counters { return &Counters{} }

// noteMismatch records one blocked store and returns the cumulative
// mismatch count driving the rotation threshold.
func (c *Counters) noteMismatch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.langMismatch++
	c.langMismatchBlocked++
	return c.langMismatch
}

// resetMismatch clears the cumulative counter; the blocked total is kept as
// a lifetime statistic.
func (c *Counters) resetMismatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.langMismatch = 0
}

func (c *Counters) noteScraped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scraped++
}

// Snapshot is the read-side view for /stats.
type Snapshot struct {
	LangMismatch        int `json:"lang_mismatch_count"`
	LangMismatchBlocked int `json:"lang_mismatch_blocked"`
	Scraped             int `json:"scraped_count"`
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		LangMismatch:        c.langMismatch,
		LangMismatchBlocked: c.langMismatchBlocked,
		Scraped:             c.scraped,
	}
}

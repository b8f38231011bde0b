// Package keys allocates the surrogate primary keys written with new issues,
// contributors and messages.
package keys

import (
	"sync/atomic"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
)

// DefaultSeed is used in place of the maximum id when a table is empty
const DefaultSeed int64 = 25150

// Allocator hands out surrogate keys for issues, contributors and messages.
// Each counter starts one past the largest id in the store and only moves forward;
// an id taken for a write that later fails is never handed out again.
type Allocator struct {
	issue       atomic.Int64
	contributor atomic.Int64
	message     atomic.Int64
}

// NewAllocator seeds the counters from the maximum ids currently stored
func NewAllocator(seeds domain.KeySeeds, fallback int64) *Allocator {
	a := &Allocator{}
	a.issue.Store(start(seeds.IssueID, fallback))
	a.contributor.Store(start(seeds.ContributorID, fallback))
	a.message.Store(start(seeds.MsgID, fallback))
	return a
}

func start(max *int64, fallback int64) int64 {
	if max == nil {
		return fallback + 1
	}
	return *max + 1
}

// NextIssue returns the next issue_id
func (a *Allocator) NextIssue() int64 {
	return a.issue.Add(1) - 1
}

// NextContributor returns the next cntrb_id
func (a *Allocator) NextContributor() int64 {
	return a.contributor.Add(1) - 1
}

// NextMessage returns the next msg_id
func (a *Allocator) NextMessage() int64 {
	return a.message.Add(1) - 1
}

// Peek returns the ids the next calls would hand out, without consuming them
func (a *Allocator) Peek() (issue, contributor, message int64) {
	return a.issue.Load(), a.contributor.Load(), a.message.Load()
}

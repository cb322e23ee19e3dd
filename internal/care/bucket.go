package care

import (
	"time"

	"petcare/internal/domain"
)

// Bucket is a discrete urgency class derived from time until due.
type Bucket string

const (
	BucketOverdue Bucket = "overdue"
	BucketNow     Bucket = "now"
	BucketToday   Bucket = "today"
	BucketWeek    Bucket = "week"
	BucketMonth   Bucket = "month"
	BucketLater   Bucket = "later"
	BucketDone    Bucket = "done"
)

const (
	nowWindow   = 3 * time.Hour
	weekWindow  = 7 * 24 * time.Hour
	monthWindow = 31 * 24 * time.Hour
)

var bucketRanks = map[Bucket]int{
	BucketOverdue: 0,
	BucketNow:     1,
	BucketToday:   2,
	BucketWeek:    3,
	BucketMonth:   4,
	BucketLater:   5,
	BucketDone:    6,
}

// Rank orders buckets by severity, most urgent first. Unknown buckets sort
// after done.
func (b Bucket) Rank() int {
	if r, ok := bucketRanks[b]; ok {
		return r
	}
	return len(bucketRanks)
}

// ClassifyBucket places item into a due bucket relative to now.
func ClassifyBucket(item domain.TrackedItem, now time.Time) Bucket {
	if item.Done {
		return BucketDone
	}
	return bucketFor(ResolveNextDue(item, now), now)
}

func bucketFor(due, now time.Time) Bucket {
	delta := due.Sub(now)
	switch {
	case delta < 0:
		return BucketOverdue
	case delta <= nowWindow:
		return BucketNow
	case sameDate(due, now):
		return BucketToday
	case delta <= weekWindow:
		return BucketWeek
	case delta <= monthWindow:
		return BucketMonth
	default:
		return BucketLater
	}
}

func sameDate(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

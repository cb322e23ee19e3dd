package care

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"petcare/internal/domain"
)

func dueIn(now time.Time, d time.Duration) domain.TrackedItem {
	due := now.Add(d)
	return domain.TrackedItem{Kind: domain.KindTask, Cadence: domain.CadenceOnce, DueAt: &due}
}

func TestClassifyBucket(t *testing.T) {
	now := day(3, 14, 0)

	testCases := []struct {
		name string
		item domain.TrackedItem
		want Bucket
	}{
		{"daily evening at 14:00 is today", domain.TrackedItem{Cadence: domain.CadenceDaily, Slot: domain.SlotEvening}, BucketToday},
		{"done short-circuits", domain.TrackedItem{Cadence: domain.CadenceDaily, Done: true}, BucketDone},
		{"past due", domain.TrackedItem{Cadence: domain.CadenceDaily, Slot: domain.SlotMorning}, BucketOverdue},
		{"exactly now", dueIn(now, 0), BucketNow},
		{"three hours", dueIn(now, 3*time.Hour), BucketNow},
		{"later today", dueIn(now, 3*time.Hour+time.Minute), BucketToday},
		{"tomorrow", dueIn(now, 20*time.Hour), BucketWeek},
		{"seven days", dueIn(now, 7*24*time.Hour), BucketWeek},
		{"eight days", dueIn(now, 8*24*time.Hour), BucketMonth},
		{"thirty one days", dueIn(now, 31*24*time.Hour), BucketMonth},
		{"far future", dueIn(now, 40*24*time.Hour), BucketLater},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyBucket(tc.item, now))
		})
	}
}

func TestClassifyBucketNearMidnightUsesNowWindow(t *testing.T) {
	now := day(3, 23, 0)
	assert.Equal(t, BucketNow, ClassifyBucket(dueIn(now, 2*time.Hour), now))
}

func TestBucketRankTable(t *testing.T) {
	order := []Bucket{BucketOverdue, BucketNow, BucketToday, BucketWeek, BucketMonth, BucketLater, BucketDone}
	for i, b := range order {
		assert.Equal(t, i, b.Rank(), string(b))
	}
	assert.Greater(t, Bucket("bogus").Rank(), BucketDone.Rank())
}

func TestBucketMonotonicity(t *testing.T) {
	for _, now := range []time.Time{day(3, 0, 5), day(3, 14, 0), day(3, 23, 30)} {
		prev := -1
		for offset := -2 * time.Hour; offset <= 45*24*time.Hour; offset += 20 * time.Minute {
			rank := ClassifyBucket(dueIn(now, offset), now).Rank()
			assert.GreaterOrEqual(t, rank, prev, "now=%s offset=%s", now, offset)
			prev = rank
		}
	}
}

package rules

import (
	"strconv"
	"time"
)

const DefaultDailyWithdrawalBatches = 2

// StartOfUTCDay is the lower bound for counting withdrawal batches.
func StartOfUTCDay(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func NextResetAt(now time.Time) time.Time {
	return StartOfUTCDay(now).Add(24 * time.Hour)
}

// BatchStamp truncates to microseconds so that the stamp survives a round
// trip through a Postgres timestamptz unchanged.
func BatchStamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}

// CeilSeconds rounds a wait up to whole seconds for Retry-After. Any positive
// wait is at least one second.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}

func CountBatchesSince(stamps []time.Time, since time.Time) int {
	seen := make(map[int64]struct{}, len(stamps))
	for _, stamp := range stamps {
		if stamp.Before(since) {
			continue
		}
		seen[stamp.UnixNano()] = struct{}{}
	}
	return len(seen)
}

// WithdrawalReference identifies one withdrawal batch towards the gateway. It
// is sent as the transfer idempotency key and used to look the transfer up
// again when a batch is left in settling.
func WithdrawalReference(recipientID string, batchStamp time.Time) string {
	return "wd_" + recipientID + "_" + strconv.FormatInt(batchStamp.UTC().UnixMicro(), 10)
}

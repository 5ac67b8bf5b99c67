package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Sequence formats the n-th human-readable number, e.g. KFE-000042.
func Sequence(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}

// FromClock is the fallback number used when the counter is unavailable:
// the last six digits of the unix millisecond clock.
func FromClock(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%06d", prefix, t.UnixMilli()%1_000_000)
}

package quota

import (
	"fmt"
	"time"
)

// Window is a fixed counting window aligned to the unix epoch.
type Window struct {
	Name   string
	Length time.Duration
}

var (
	Minute = Window{Name: "minute", Length: time.Minute}
	Hour   = Window{Name: "hour", Length: time.Hour}
	Day    = Window{Name: "day", Length: 24 * time.Hour}
)

// Windows lists the enforced windows in reporting precedence.
var Windows = []Window{Minute, Hour, Day}

func (w Window) seconds() int64 {
	return int64(w.Length / time.Second)
}

// Bucket is floor(unix(now) / length).
func (w Window) Bucket(now time.Time) int64 {
	return now.Unix() / w.seconds()
}

// ResetAt is the instant the bucket containing now rolls over.
func (w Window) ResetAt(now time.Time) time.Time {
	return time.Unix((w.Bucket(now)+1)*w.seconds(), 0)
}

// RetryAfter is the whole number of seconds until rollover, never below 1.
func (w Window) RetryAfter(now time.Time) int64 {
	secs := w.ResetAt(now).Unix() - now.Unix()
	if secs < 1 {
		return 1
	}
	return secs
}

// Key identifies one counter: a principal in one bucket of one window.
type Key struct {
	Principal uint64
	Window    string
	Bucket    int64
}

func NewKey(principal uint64, w Window, now time.Time) Key {
	return Key{Principal: principal, Window: w.Name, Bucket: w.Bucket(now)}
}

func (k Key) String() string {
	return fmt.Sprintf("ratelimit:%d:%s:%d", k.Principal, k.Window, k.Bucket)
}

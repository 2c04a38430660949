package client

import "time"

// backoff doubles a reconnect delay up to a ceiling. It is not safe for
// concurrent use; only the goroutine dialing touches it.
type backoff struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(base, ceiling time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	return &backoff{base: base, ceiling: ceiling, current: base}
}

// next returns the delay to wait now and grows the one after it
func (b *backoff) next() time.Duration {
	d := b.current
	b.current = min(b.current*2, b.ceiling)
	return d
}

func (b *backoff) reset() {
	b.current = b.base
}

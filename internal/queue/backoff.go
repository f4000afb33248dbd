package queue

import "time"

// Backoff returns the delay before attempt+1 given that attempt attempts
// have failed: BackoffBase doubled per failure, capped at BackoffCap, plus
// up to Jitter of random spread. The result never exceeds BackoffCap; once
// the doubling reaches the cap the spread is taken below it instead, so
// long-failing records from many devices don't retry in lockstep.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.opts.BackoffBase
	for i := 1; i < attempt && d < q.opts.BackoffCap; i++ {
		d *= 2
	}
	if d > q.opts.BackoffCap {
		d = q.opts.BackoffCap
	}
	j := time.Duration(float64(d) * q.opts.Jitter * q.opts.Rand())
	if d+j > q.opts.BackoffCap {
		return q.opts.BackoffCap - j
	}
	return d + j
}

package eval

import "time"

func (u *UseCase) BackoffForTest(attempt int) time.Duration {
	return u.backoff(attempt)
}

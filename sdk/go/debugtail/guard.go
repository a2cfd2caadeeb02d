package debugtail

import "github.com/ppiankov/debugtail/internal/intercept"

// Wrap returns fn guarded by the mode c assigns to name at call time.
// Logged calls are reported with their duration and result; Prevented
// calls return fallback without running fn.
func Wrap[A, R any](c *Client, name string, fn func(A) (R, error), fallback R) func(A) (R, error) {
	return intercept.Wrap(c.s, c.rules, name, fn, fallback)
}

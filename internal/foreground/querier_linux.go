//go:build linux

package foreground

import "time"

// DefaultQuerier returns the platform window querier
func DefaultQuerier(timeout time.Duration) WindowQuerier {
	return NewXpropQuerier(timeout)
}

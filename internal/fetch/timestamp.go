package fetch

// PromoteTimestamp applies the seconds→milliseconds auto-promotion rule:
// any value in (10^9, 10^10) is treated as seconds and scaled up; anything
// else is assumed to already be milliseconds.
func PromoteTimestamp(t int64) int64 {
	if t > 1_000_000_000 && t < 10_000_000_000 {
		return t * 1000
	}
	return t
}

package parse

// promoteTimestamp applies the same seconds→milliseconds auto-promotion
// rule as internal/fetch, kept local so the parser has no dependency on
// the fetcher.
func promoteTimestamp(t int64) int64 {
	if t > 1_000_000_000 && t < 10_000_000_000 {
		return t * 1000
	}
	return t
}

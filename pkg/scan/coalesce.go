package scan

// readSpan is a single range read covering the candidates lo..hi-1 of an
// ordered address list.
type readSpan struct {
	lo, hi int
	addr   uint64
	size   int
}

// coalesce groups ordered candidate addresses into range reads. A read
// covers consecutive candidates as long as it stays within window bytes
// and does not cross the end of the region of its first candidate, as
// returned by regionEnd. A window smaller than width disables coalescing.
func coalesce(addrs []uint64, width, window int, regionEnd func(uint64) uint64) []readSpan {
	spans := make([]readSpan, 0, len(addrs))
	w := uint64(width)
	for i := 0; i < len(addrs); {
		start := addrs[i]
		limit := start + uint64(window)
		if window < width {
			limit = start + w
		}
		if regionEnd != nil {
			if end := regionEnd(start); end < limit {
				limit = end
			}
		}
		j := i + 1
		for j < len(addrs) && addrs[j] >= start && addrs[j]+w <= limit {
			j++
		}
		spans = append(spans, readSpan{lo: i, hi: j, addr: start, size: int(addrs[j-1] + w - start)})
		i = j
	}
	return spans
}

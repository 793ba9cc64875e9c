package archive

// Stride returns ceil(total/max), or 1 when no reduction is needed
func Stride(total, max int) int {
	if max <= 0 || total <= max {
		return 1
	}
	return (total + max - 1) / max
}

// Keep reports whether the point at 1-based rank survives decimation.
// The first and last ranks are always kept.
func Keep(rank, total, stride int) bool {
	if rank == 1 || rank == total {
		return true
	}
	if stride <= 1 {
		return true
	}
	return (rank-1)%stride == 0
}

// Decimate returns the subsequence of items (already in time order) retained
// for a target of max points. The input slice is not modified.
func Decimate[T any](items []T, max int) []T {
	total := len(items)
	stride := Stride(total, max)
	if stride == 1 {
		out := make([]T, total)
		copy(out, items)
		return out
	}

	out := make([]T, 0, total/stride+2)
	for i, item := range items {
		if Keep(i+1, total, stride) {
			out = append(out, item)
		}
	}
	return out
}

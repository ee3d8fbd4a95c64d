package retrieval

// levenshtein computes the edit distance between two strings, with an early
// exit once no alignment can come in under max. Returns max+1 when the
// distance exceeds max.
func levenshtein(a, b string, max int) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	if la-lb > max || lb-la > max {
		return max + 1
	}
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			d := prev[j-1] + cost
			if del := prev[j] + 1; del < d {
				d = del
			}
			if ins := curr[j-1] + 1; ins < d {
				d = ins
			}
			curr[j] = d
			if d < rowMin {
				rowMin = d
			}
		}
		if rowMin > max {
			return max + 1
		}
		prev, curr = curr, prev
	}
	if prev[lb] > max {
		return max + 1
	}
	return prev[lb]
}

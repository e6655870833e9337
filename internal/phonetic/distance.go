package phonetic

// substitutionCost returns the edit cost of replacing a with b, tiered by
// how plausibly a recognizer confuses the two.
func substitutionCost(a, b rune) float64 {
	if a == b {
		return costIdentical
	}
	if ga, ok := groupIndex[a]; ok {
		if gb, ok := groupIndex[b]; ok && ga == gb {
			return costSameGroup
		}
	}
	if _, ok := variationPairs[[2]rune{a, b}]; ok {
		return costVariation
	}
	if va, ok := vowelIndex[a]; ok {
		if vb, ok := vowelIndex[b]; ok && va == vb {
			return costSameVowelRow
		}
	}
	if ca, ok := consonantIndex[a]; ok {
		if cb, ok := consonantIndex[b]; ok && ca == cb {
			return costSameConsonant
		}
	}
	return costUnrelated
}

// Similarity computes a weighted edit-distance similarity between two
// already-normalized strings in [0, 1]. Insertions and deletions cost 1;
// substitutions use the tiered cost model. Identical strings score 1.0.
func Similarity(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	prev := make([]float64, len(rb)+1)
	curr := make([]float64, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = float64(j)
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = float64(i)
		for j := 1; j <= len(rb); j++ {
			sub := prev[j-1] + substitutionCost(ra[i-1], rb[j-1])
			del := prev[j] + 1
			ins := curr[j-1] + 1
			curr[j] = min3(sub, del, ins)
		}
		prev, curr = curr, prev
	}

	dist := prev[len(rb)]
	maxLen := float64(len(ra))
	if float64(len(rb)) > maxLen {
		maxLen = float64(len(rb))
	}

	sim := 1.0 - dist/maxLen
	if sim < 0 {
		return 0.0
	}
	return sim
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

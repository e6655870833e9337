package phonetic

// Substitution cost tiers. Characters cost less to swap the closer the
// recognizer is to confusing them in practice.
const (
	costIdentical     = 0.0
	costSameGroup     = 0.2
	costVariation     = 0.3
	costSameVowelRow  = 0.3
	costSameConsonant = 0.4
	costUnrelated     = 1.0
)

// phoneticGroups clusters kana that share a consonant family including
// voiced (dakuten) forms. Substitution inside a group is the cheapest
// non-identical edit.
var phoneticGroups = [][]rune{
	{'か', 'が', 'く', 'ぐ', 'け', 'げ', 'こ', 'ご', 'き', 'ぎ'},
	{'ら', 'り', 'る', 'れ', 'ろ'},
	{'さ', 'ざ', 'し', 'じ', 'す', 'ず', 'せ', 'ぜ', 'そ', 'ぞ'},
	{'た', 'だ', 'ち', 'ぢ', 'つ', 'づ', 'て', 'で', 'と', 'ど'},
	{'な', 'に', 'ぬ', 'ね', 'の', 'ん'},
	{'う', 'ゆ', 'ふ'},
}

// variations lists per-character recognizer slips observed for the wake
// word syllables themselves, beyond what the general groups cover.
var variations = map[rune][]rune{
	'る': {'ら', 'り', 'れ', 'ろ', 'ぬ'},
	'く': {'ぐ', 'っ', 'き', 'け'},
	'す': {'ず', 'し', 'つ'},
}

// vowelRows groups kana by vowel (a i u e o).
var vowelRows = [][]rune{
	{'あ', 'か', 'さ', 'た', 'な', 'は', 'ま', 'や', 'ら', 'わ', 'が', 'ざ', 'だ', 'ば', 'ぱ'},
	{'い', 'き', 'し', 'ち', 'に', 'ひ', 'み', 'り', 'ぎ', 'じ', 'ぢ', 'び', 'ぴ'},
	{'う', 'く', 'す', 'つ', 'ぬ', 'ふ', 'む', 'ゆ', 'る', 'ぐ', 'ず', 'づ', 'ぶ', 'ぷ'},
	{'え', 'け', 'せ', 'て', 'ね', 'へ', 'め', 'れ', 'げ', 'ぜ', 'で', 'べ', 'ぺ'},
	{'お', 'こ', 'そ', 'と', 'の', 'ほ', 'も', 'よ', 'ろ', 'ご', 'ぞ', 'ど', 'ぼ', 'ぽ'},
}

// consonantRows groups kana by consonant row of the gojūon, unvoiced and
// voiced forms as separate rows.
var consonantRows = [][]rune{
	{'か', 'き', 'く', 'け', 'こ'},
	{'が', 'ぎ', 'ぐ', 'げ', 'ご'},
	{'さ', 'し', 'す', 'せ', 'そ'},
	{'ざ', 'じ', 'ず', 'ぜ', 'ぞ'},
	{'た', 'ち', 'つ', 'て', 'と'},
	{'だ', 'ぢ', 'づ', 'で', 'ど'},
	{'な', 'に', 'ぬ', 'ね', 'の'},
	{'ら', 'り', 'る', 'れ', 'ろ'},
	{'ま', 'み', 'む', 'め', 'も'},
}

var (
	groupIndex     map[rune]int
	vowelIndex     map[rune]int
	consonantIndex map[rune]int
	variationPairs map[[2]rune]struct{}
)

func init() {
	groupIndex = indexRows(phoneticGroups)
	vowelIndex = indexRows(vowelRows)
	consonantIndex = indexRows(consonantRows)

	variationPairs = make(map[[2]rune]struct{})
	for base, alts := range variations {
		for _, alt := range alts {
			variationPairs[[2]rune{base, alt}] = struct{}{}
			variationPairs[[2]rune{alt, base}] = struct{}{}
		}
	}
}

func indexRows(rows [][]rune) map[rune]int {
	idx := make(map[rune]int)
	for i, row := range rows {
		for _, r := range row {
			idx[r] = i
		}
	}
	return idx
}

package textutil

import "unicode"

var soundexCodes = map[rune]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

// Soundex returns the four-character American Soundex code of word, or ""
// when word has no ASCII letters. Digits are kept verbatim so numbered names
// only agree with the same number.
func Soundex(word string) string {
	var first rune
	rest := make([]rune, 0, len(word))
	for _, r := range word {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if first == 0 {
				first = r
				continue
			}
			rest = append(rest, r)
		}
	}
	if first == 0 {
		return ""
	}
	if first >= '0' && first <= '9' {
		return string(first) + string(rest)
	}

	out := []byte{byte(unicode.ToUpper(first))}
	last := soundexCodes[first]
	for _, r := range rest {
		code, ok := soundexCodes[r]
		switch {
		case !ok && r != 'h' && r != 'w':
			last = 0
		case ok && code != last:
			out = append(out, code)
			last = code
		}
		if len(out) == 4 {
			break
		}
	}
	for len(out) < 4 {
		out = append(out, '0')
	}
	return string(out)
}

// SoundexAgreement is the share of word codes the two token lists have in
// common, measured against the longer list.
func SoundexAgreement(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, tok := range a {
		if code := Soundex(tok); code != "" {
			counts[code]++
		}
	}
	matched := 0
	for _, tok := range b {
		code := Soundex(tok)
		if code != "" && counts[code] > 0 {
			counts[code]--
			matched++
		}
	}
	return float64(matched) / float64(longest)
}

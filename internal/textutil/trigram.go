package textutil

// Trigrams returns the distinct padded three-rune grams of a normalized
// string. Padding lets short names produce grams for their edges.
func Trigrams(normalized string) []string {
	if normalized == "" {
		return nil
	}
	padded := []rune("  " + normalized + " ")
	seen := make(map[string]struct{}, len(padded))
	out := make([]string, 0, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		gram := string(padded[i : i+3])
		if _, ok := seen[gram]; ok {
			continue
		}
		seen[gram] = struct{}{}
		out = append(out, gram)
	}
	return out
}

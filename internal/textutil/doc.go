// Package textutil provides the text primitives used for card name matching.
//
// Normalize folds a recognized or catalog name to a comparable key: accents
// are stripped, case is folded, quote and separator variants are unified, and
// whitespace is collapsed. Levenshtein similarity, Soundex codes and padded
// trigrams build on that normalized form.
package textutil

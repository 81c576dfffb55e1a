package recognize

import (
	"strconv"
	"strings"
)

// Column layout of Tesseract TSV output.
const (
	tsvLevel = iota
	tsvPage
	tsvBlock
	tsvPar
	tsvLine
	tsvWord
	tsvLeft
	tsvTop
	tsvWidth
	tsvHeight
	tsvConf
	tsvText
	tsvColumns
)

const wordLevel = "5"

// ParseTSV groups word rows into lines. Word confidences are percentages;
// line and mean confidences are reported in [0,1]. Rows with negative
// confidence or empty text are layout rows and are skipped.
func ParseTSV(rows []string) ([]Line, float64) {
	type lineAcc struct {
		words []string
		sum   float64
	}
	var (
		order    []string
		lines    = map[string]*lineAcc{}
		total    float64
		wordSeen int
	)
	for _, row := range rows {
		cols := strings.Split(row, "\t")
		if len(cols) < tsvColumns || cols[tsvLevel] != wordLevel {
			continue
		}
		text := strings.TrimSpace(cols[tsvText])
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[tsvConf]), 64)
		if err != nil || conf < 0 || text == "" {
			continue
		}
		conf = min(conf/100, 1)
		key := strings.Join(cols[tsvPage:tsvWord], ".")
		acc, ok := lines[key]
		if !ok {
			acc = &lineAcc{}
			lines[key] = acc
			order = append(order, key)
		}
		acc.words = append(acc.words, text)
		acc.sum += conf
		total += conf
		wordSeen++
	}

	out := make([]Line, 0, len(order))
	for _, key := range order {
		acc := lines[key]
		out = append(out, Line{
			Text:       strings.Join(acc.words, " "),
			Confidence: acc.sum / float64(len(acc.words)),
		})
	}
	if wordSeen == 0 {
		return out, 0
	}
	return out, total / float64(wordSeen)
}

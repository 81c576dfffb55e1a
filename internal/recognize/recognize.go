package recognize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Variant is one preprocessed rendition of the input image. The first
// variant of a job is the original.
type Variant struct {
	Name string
	Data []byte
}

// Line is one recognized text line.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognition is the output of one engine run over one variant.
type Recognition struct {
	Engine         string  `json:"engine"`
	Variant        string  `json:"variant"`
	Lines          []Line  `json:"lines"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// LineCount returns the number of recognized lines.
func (r Recognition) LineCount() int { return len(r.Lines) }

// Texts returns the text of every line.
func (r Recognition) Texts() []string {
	out := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		out[i] = l.Text
	}
	return out
}

// Better reports whether r is a stronger result than other: higher mean
// confidence first, then more lines.
func (r Recognition) Better(other Recognition) bool {
	if r.MeanConfidence != other.MeanConfidence {
		return r.MeanConfidence > other.MeanConfidence
	}
	return len(r.Lines) > len(other.Lines)
}

// Recognizer runs one recognition engine.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, v Variant) (Recognition, error)
}

// Func adapts a function to Recognizer.
type Func struct {
	Engine string
	Fn     func(ctx context.Context, v Variant) (Recognition, error)
}

// Name implements Recognizer.
func (f Func) Name() string { return f.Engine }

// Recognize implements Recognizer.
func (f Func) Recognize(ctx context.Context, v Variant) (Recognition, error) {
	rec, err := f.Fn(ctx, v)
	if err != nil {
		return Recognition{}, err
	}
	if rec.Engine == "" {
		rec.Engine = f.Engine
	}
	if rec.Variant == "" {
		rec.Variant = v.Name
	}
	return rec, nil
}

// Dimensions returns the pixel width and height of an encoded PNG, JPEG or
// GIF image.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

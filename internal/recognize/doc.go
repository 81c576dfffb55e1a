// Package recognize adapts external text recognition engines.
//
// A Recognizer turns one image Variant into recognized lines with per-line
// confidence. Command runs an OCR binary that prints Tesseract-style TSV and
// parses its word rows into lines. Func wraps a plain function for tests and
// embedding. Dimensions reads the pixel size of an encoded image so callers
// can pick a resolution class without decoding the full bitmap.
package recognize

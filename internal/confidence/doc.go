// Package confidence decides whether a recognition result is trustworthy.
//
// A Policy maps each resolution class to a band of thresholds: an early-stop
// confidence that ends the variant sweep, a fallback confidence below which
// the secondary recognizer is worth paying for, and a minimum line count.
// Lower resolutions accept lower confidence but demand more lines.
package confidence

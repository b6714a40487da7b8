package supervisor

import (
	"strings"
	"time"
)

// BootDetector decides when a booting VM is ready for command injection.
// Implementations are consulted two ways: once per observed output line,
// and periodically with the time elapsed since the last output.
type BootDetector interface {
	// LineObserved reports whether the line indicates a completed boot.
	LineObserved(line string) bool

	// QuietFor reports whether a quiet period of the given length, with
	// prior output observed, indicates a completed boot.
	QuietFor(quiet time.Duration) bool
}

// defaultBootMarkers are substrings that commonly appear once a guest is
// ready for input: login prompts, shell prompts and distro banners.
var defaultBootMarkers = []string{
	"login:",
	"welcome to",
	"$ ",
	"# ",
	"root@",
	"user@",
	"ubuntu",
	"debian",
	"centos",
	"started",
}

// MarkerDetector matches output lines against a set of boot markers.
type MarkerDetector struct {
	markers []string
}

// NewMarkerDetector creates a detector for the given markers; with none it
// uses the default prompt/banner set.
func NewMarkerDetector(markers ...string) *MarkerDetector {
	if len(markers) == 0 {
		markers = defaultBootMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return &MarkerDetector{markers: lowered}
}

func (d *MarkerDetector) LineObserved(line string) bool {
	line = strings.ToLower(line)
	for _, m := range d.markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func (d *MarkerDetector) QuietFor(time.Duration) bool { return false }

// QuiescenceDetector declares boot complete once output has gone quiet for
// a fixed window, for guests without a recognizable prompt.
type QuiescenceDetector struct {
	Window time.Duration
}

func (d *QuiescenceDetector) LineObserved(string) bool { return false }

func (d *QuiescenceDetector) QuietFor(quiet time.Duration) bool {
	return d.Window > 0 && quiet >= d.Window
}

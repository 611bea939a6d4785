package utils

import (
	"net/http"
	"path"
	"strings"
)

const (
	formatPNG     = "png"
	formatQOI     = "qoi"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of an encoded stream and returns the
// image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// QOI: "qoif"
	if data[0] == 'q' && data[1] == 'o' && data[2] == 'i' && data[3] == 'f' {
		return formatQOI
	}
	// Fallback to net/http sniffing.
	if http.DetectContentType(data) == "image/png" {
		return formatPNG
	}
	return formatUnknown
}

// FormatFromContentType maps a MIME type (parameters allowed) to a format.
func FormatFromContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.ToLower(strings.TrimSpace(ct)) {
	case "image/png", "image/apng":
		return formatPNG
	case "image/qoi", "image/x-qoi":
		return formatQOI
	}
	return formatUnknown
}

// FormatFromName guesses a format from a file name or URL path extension.
func FormatFromName(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return formatPNG
	case ".qoi":
		return formatQOI
	}
	return formatUnknown
}

// ScaleDimensions computes output (w, h) preserving aspect ratio.
// Pass 0 for either axis to calculate it from the other.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		ratio := float64(targetH) / float64(srcH)
		return int(float64(srcW) * ratio), targetH
	}
	if targetH == 0 {
		ratio := float64(targetW) / float64(srcW)
		return targetW, int(float64(srcH) * ratio)
	}
	return targetW, targetH
}

// FitDimensions scales (srcW, srcH) to fit inside (maxW, maxH), preserving
// aspect ratio.  A zero bound leaves that axis unconstrained.  The result is
// never smaller than 1x1.
func FitDimensions(srcW, srcH, maxW, maxH int) (int, int) {
	if maxW == 0 || maxH == 0 {
		return clampOne(ScaleDimensions(srcW, srcH, maxW, maxH))
	}
	if srcW*maxH > maxW*srcH {
		return clampOne(ScaleDimensions(srcW, srcH, maxW, 0))
	}
	return clampOne(ScaleDimensions(srcW, srcH, 0, maxH))
}

func clampOne(w, h int) (int, int) {
	return max(w, 1), max(h, 1)
}

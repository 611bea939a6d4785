package config

import (
	"errors"
	"strings"
	"time"
)

// ImageType selects the pixel layout of a display framebuffer.
type ImageType string

const (
	ImageBinary            ImageType = "BINARY"
	ImageTransparentBinary ImageType = "TRANSPARENT_BINARY"
	ImageGrayscale         ImageType = "GRAYSCALE"
	ImageRGB565            ImageType = "RGB565"
	ImageRGB24             ImageType = "RGB24"
	ImageRGBA              ImageType = "RGBA"
)

// Transparent reports whether the type always carries transparency.
func (t ImageType) Transparent() bool {
	return t == ImageTransparentBinary || t == ImageRGBA
}

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Working buffer capacity in bytes.  Fixed for the lifetime of a session.
	BufferSize int

	// Pacing of the read loop.
	IdleWait time.Duration // waiting for the network to deliver a worthwhile batch
	GapWait  time.Duration // source reported bytes but the read returned none

	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()
	QueueSize   int // max queued jobs before backpressure; default: 256
	JobTimeout  time.Duration

	// Memory limits.
	MaxImageBytes int64 // 0 = no limit
	MaxPixels     int   // 0 = no limit; caps canvas allocation

	HTTP    HTTPConfig
	Display DisplayConfig

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// HTTPConfig configures the network byte source.
type HTTPConfig struct {
	Timeout       time.Duration
	UserAgent     string
	EnableHTTP2   bool
	ReceiveWindow int // bytes buffered between the socket and the read loop
}

// DisplayConfig configures the framebuffer sink.
type DisplayConfig struct {
	ResizeWidth     int // 0 keeps the source width (or derives it from ResizeHeight)
	ResizeHeight    int
	ImageType       ImageType
	UseTransparency bool
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		BufferSize:  2048,
		IdleWait:    10 * time.Millisecond,
		GapWait:     time.Millisecond,
		WorkerCount: 0, // resolved at runtime to NumCPU
		QueueSize:   256,
		JobTimeout:  30 * time.Second,
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "image-stream/1.0",
			EnableHTTP2:   true,
			ReceiveWindow: 4096,
		},
		Display: DisplayConfig{
			ImageType:       ImageRGBA,
			UseTransparency: true,
		},
		LogLevel: "info",
	}
}

// MinBufferSize is the smallest working buffer a session accepts.  It must
// hold the largest atomic unit any engine asks for.
const MinBufferSize = 64

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.BufferSize < MinBufferSize {
		return errors.New("config: BufferSize must be at least 64 bytes")
	}
	if c.IdleWait < 0 || c.GapWait < 0 {
		return errors.New("config: IdleWait and GapWait must not be negative")
	}
	if c.MaxImageBytes < 0 || c.MaxPixels < 0 {
		return errors.New("config: limits must not be negative")
	}
	if c.HTTP.ReceiveWindow < 0 {
		return errors.New("config: HTTP.ReceiveWindow must not be negative")
	}
	return ValidateDisplay(c.Display)
}

// ValidateDisplay checks the image type against the transparency setting.
func ValidateDisplay(d DisplayConfig) error {
	switch ImageType(strings.ToUpper(string(d.ImageType))) {
	case ImageBinary, ImageTransparentBinary, ImageGrayscale, ImageRGB565, ImageRGB24, ImageRGBA:
	default:
		return errors.New("config: Display.ImageType is not supported")
	}
	if d.ResizeWidth < 0 || d.ResizeHeight < 0 {
		return errors.New("config: Display resize dimensions must not be negative")
	}
	if ImageType(strings.ToUpper(string(d.ImageType))).Transparent() && !d.UseTransparency {
		return errors.New("config: Display.ImageType must always be transparent")
	}
	return nil
}

package converter

import (
	"fmt"
	"os"

	"github.com/davidbyttow/govips/v2/vips"
	"go.uber.org/zap"
)

// Result reports what one conversion produced: derivative file paths keyed
// by format (and format_width for scaled variants) plus source dimensions.
type Result struct {
	Outputs    map[string]string
	Dimensions map[string]string
}

// PathFunc resolves the output file path for a format and optional width.
type PathFunc func(format string, width *int) string

// Converter turns a source image into AVIF and WebP derivatives at native
// width plus any requested widths, via libvips.
type Converter struct {
	logger *zap.Logger
	effort int
}

func NewConverter(logger *zap.Logger, avifEffort int) *Converter {
	return &Converter{logger: logger, effort: avifEffort}
}

// Startup initializes libvips. Call once per process before any conversion;
// pair with Shutdown.
func Startup(logger *zap.Logger) {
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			logger.Error("vips", zap.String("domain", domain), zap.String("message", msg))
		default:
			logger.Warn("vips", zap.String("domain", domain), zap.String("message", msg))
		}
	}, vips.LogLevelWarning)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})
}

func Shutdown() {
	vips.Shutdown()
}

// Convert produces every configured derivative. Widths above the source are
// upscaled rather than skipped: a sized request must always leave its
// derivative on disk, or the fingerprint would be reprocessed from scratch
// every time its cache entry expires.
func (c *Converter) Convert(data []byte, fp string, widths []int, pathFor PathFunc) (*Result, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	result := &Result{
		Outputs:    map[string]string{},
		Dimensions: map[string]string{},
	}
	result.Dimensions["original"] = fmt.Sprintf("%dx%d", img.Width(), img.Height())

	if err := c.export(img, fp, nil, pathFor, result); err != nil {
		return nil, err
	}

	for _, width := range widths {
		w := width
		if w > img.Width() {
			c.logger.Debug("Upscaling above source width",
				zap.String("fingerprint", fp),
				zap.Int("width", w),
				zap.Int("source_width", img.Width()),
			)
		}

		resized, err := vips.NewImageFromBuffer(data)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		scale := float64(w) / float64(resized.Width())
		if err := resized.Resize(scale, vips.KernelLanczos3); err != nil {
			resized.Close()
			return nil, fmt.Errorf("resize to %d: %w", w, err)
		}
		result.Dimensions[fmt.Sprintf("%d", w)] = fmt.Sprintf("%dx%d", resized.Width(), resized.Height())

		err = c.export(resized, fp, &w, pathFor, result)
		resized.Close()
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (c *Converter) export(img *vips.ImageRef, fp string, width *int, pathFor PathFunc, result *Result) error {
	avifParams := vips.NewAvifExportParams()
	avifParams.Effort = c.effort
	avifBytes, _, err := img.ExportAvif(avifParams)
	if err != nil {
		return fmt.Errorf("encode avif: %w", err)
	}
	if err := writeOutput(pathFor("avif", width), avifBytes, "avif", width, result); err != nil {
		return err
	}

	webpBytes, _, err := img.ExportWebp(vips.NewWebpExportParams())
	if err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	return writeOutput(pathFor("webp", width), webpBytes, "webp", width, result)
}

func writeOutput(path string, data []byte, format string, width *int, result *Result) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	key := format
	if width != nil {
		key = fmt.Sprintf("%s_%d", format, *width)
	}
	result.Outputs[key] = path
	return nil
}

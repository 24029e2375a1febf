package imaging

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP/DIB format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// ErrUnsupported is returned for files whose extension has no decoder.
var ErrUnsupported = errors.New("unsupported image format")

// SupportedExtensions lists the lower-cased image extensions accepted as
// OCR input.
var SupportedExtensions = []string{
	".tif", ".tiff", ".jpg", ".jpeg", ".jpe", ".jfif", ".png", ".bmp", ".gif", ".dib",
}

// IsSupported reports whether path has a supported image extension.
func IsSupported(path string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

// ImageCache provides thread-safe caching of decoded scan images.
//
// Pages of a folder are decoded concurrently by the batch workers, and the
// same page is needed more than once (inspection, preparation, PDF
// embedding). The cache keeps each decoded page until it is evicted.
//
// ImageCache is safe for concurrent use by multiple goroutines.
//
// # Memory Management
//
// Cached images remain in memory until explicitly removed via Evict() or
// Clear(). The batch driver evicts every page once its PDF page is written.
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]image.Image),
	}
}

// Load retrieves an image from the cache or decodes it from disk.
//
// Parameters:
//   - path: Path to the image. Any extension in SupportedExtensions is accepted.
//
// Returns:
//   - image.Image: The decoded image with EXIF orientation applied.
//   - error: ErrUnsupported for unknown extensions, otherwise non-nil if the
//     file cannot be opened or decoded.
//
// The image is cached using the exact path string provided.
func (c *ImageCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	if !IsSupported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()

	return img, nil
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.mu.Unlock()
}

// Evict removes a specific image from the cache by its path.
//
// If the path is not in the cache, this method does nothing.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// ImageInfo contains metadata about a scan image.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is derived from the extension: "png", "jpeg", "gif", "tiff",
	// "bmp" or "unknown".
	Format string `json:"format"`

	// ColorDepth indicates the bit depth per channel: "8-bit" or "16-bit".
	ColorDepth string `json:"color_depth"`

	// HasAlpha indicates whether the decoded image carries an alpha channel.
	HasAlpha bool `json:"has_alpha"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`

	// DPI is the resolution stored in the file, or 0 when absent.
	DPI int `json:"dpi"`
}

// LoadImageInfo loads an image and returns its metadata.
//
// Parameters:
//   - cache: The image cache to use for loading. Must not be nil.
//   - path: Path to the image file.
//
// Returns:
//   - *ImageInfo: Metadata about the image.
//   - error: Non-nil if the image cannot be loaded or the file cannot be stat'd.
//
// A resolution that cannot be read is reported as DPI 0, not as an error.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	hasAlpha := false
	colorDepth := "8-bit"
	switch img.(type) {
	case *image.RGBA, *image.NRGBA:
		hasAlpha = true
	case *image.RGBA64, *image.NRGBA64:
		hasAlpha = true
		colorDepth = "16-bit"
	case *image.Gray16:
		colorDepth = "16-bit"
	case *image.Paletted:
		hasAlpha = paletteHasAlpha(img.(*image.Paletted))
	}

	dpi, _ := ReadDPI(path)

	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        formatFromExt(path),
		ColorDepth:    colorDepth,
		HasAlpha:      hasAlpha,
		FileSizeBytes: stat.Size(),
		DPI:           dpi,
	}, nil
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg", ".jpe", ".jfif":
		return "jpeg"
	case ".gif":
		return "gif"
	case ".tif", ".tiff":
		return "tiff"
	case ".bmp", ".dib":
		return "bmp"
	}
	return "unknown"
}

func paletteHasAlpha(p *image.Paletted) bool {
	for _, c := range p.Palette {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			return true
		}
	}
	return false
}

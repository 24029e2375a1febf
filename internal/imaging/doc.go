// Package imaging loads scan images and prepares them for recognition.
//
// This package covers everything the batch driver needs to know about a page
// image before it reaches an OCR engine: decoding (PNG, JPEG, GIF, TIFF,
// BMP), the resolution stored in the file or inferred from the paper size,
// flattening transparency onto white, optional downscaling and contrast
// enhancement, and detection of blank pages.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner. The
// scale returned by Prepare maps coordinates on the prepared page back to
// the original one.
//
// # Resolution
//
// ResolveDPI decides the resolution of a page in this order:
//  1. An explicit override from the settings
//  2. The resolution recorded in the file (ReadDPI)
//  3. The resolution inferred from the pixel size and the Papers table
//  4. DefaultDPI (300)
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. All other functions are
// stateless and may be called concurrently on different images.
package imaging

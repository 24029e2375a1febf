package imaging

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDPI is used when neither an override, the file nor the page
// geometry gives a resolution.
const DefaultDPI = 300

// Paper is a named paper size in inches, portrait orientation.
type Paper struct {
	Name   string
	Width  float64
	Height float64
}

// Papers is the table of paper sizes used to infer scan resolution.
var Papers = []Paper{
	{"A0", 33.11, 46.81},
	{"A1", 23.39, 33.11},
	{"A2", 16.54, 23.39},
	{"A3", 11.69, 16.54},
	{"A4", 8.27, 11.69},
	{"A5", 5.83, 8.27},
	{"A6", 4.13, 5.83},
	{"Letter", 8.5, 11},
	{"Legal", 8.5, 14},
	{"Tabloid", 11, 17},
	{"Executive", 7.25, 10.5},
	{"B4", 9.84, 13.9},
	{"B5", 6.93, 9.84},
	{"B6", 4.92, 6.93},
	{"C4", 9.02, 12.76},
	{"C5", 6.38, 9.02},
	{"DL", 4.33, 8.66},
}

// StandardDPIs are the scanner resolutions GuessDPI considers.
var StandardDPIs = []int{72, 96, 150, 200, 240, 250, 300, 350, 400, 450, 500, 600, 800, 900, 1200}

// guessTolerance is the relative size error accepted by GuessDPI.
const guessTolerance = 0.02

// PixelSize returns the portrait pixel dimensions of paper scanned at dpi.
func PixelSize(p Paper, dpi int) (int, int) {
	return int(math.Round(p.Width * float64(dpi))), int(math.Round(p.Height * float64(dpi)))
}

// GuessDPI infers the scan resolution by matching the pixel dimensions
// against every paper size at every standard resolution. Orientation is
// ignored. It returns the paper and resolution with the smallest relative
// error, or ok=false when nothing is within tolerance.
func GuessDPI(width, height int) (paper Paper, dpi int, ok bool) {
	if width <= 0 || height <= 0 {
		return Paper{}, 0, false
	}
	short, long := float64(min(width, height)), float64(max(width, height))

	best := math.MaxFloat64
	for _, p := range Papers {
		for _, d := range StandardDPIs {
			pw, ph := PixelSize(p, d)
			errW := math.Abs(short-float64(pw)) / float64(pw)
			errH := math.Abs(long-float64(ph)) / float64(ph)
			e := max(errW, errH)
			if e <= guessTolerance && e < best {
				best = e
				paper, dpi, ok = p, d, true
			}
		}
	}
	return paper, dpi, ok
}

// ResolveDPI picks the resolution for a page: the explicit override, then
// the resolution stored in the file, then the one inferred from the paper
// size, and finally DefaultDPI.
func ResolveDPI(override, metadata, width, height int) int {
	if override > 0 {
		return override
	}
	if metadata > 0 {
		return metadata
	}
	if _, dpi, ok := GuessDPI(width, height); ok {
		return dpi
	}
	return DefaultDPI
}

// errNoDPI means the file carries no usable resolution.
var errNoDPI = errors.New("no resolution information")

// ReadDPI returns the horizontal resolution stored in an image file.
//
// PNG (pHYs), JPEG (JFIF APP0), TIFF (XResolution) and BMP headers are
// understood. It returns 0 and an error when the file has no resolution
// or the format is not one of those.
func ReadDPI(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var dpi float64
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		dpi, err = pngDPI(r)
	case ".jpg", ".jpeg", ".jpe", ".jfif":
		dpi, err = jpegDPI(r)
	case ".tif", ".tiff":
		dpi, err = tiffDPI(f)
	case ".bmp", ".dib":
		dpi, err = bmpDPI(r)
	default:
		err = errNoDPI
	}
	if err != nil {
		return 0, err
	}
	if dpi < 1 {
		return 0, errNoDPI
	}
	return int(math.Round(dpi)), nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

func pngDPI(r io.Reader) (float64, error) {
	sig := make([]byte, 8)
	if _, err := io.ReadFull(r, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return 0, errNoDPI
	}
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return 0, errNoDPI
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		typ := string(hdr[4:8])
		switch typ {
		case "pHYs":
			var data [9]byte
			if length != 9 {
				return 0, errNoDPI
			}
			if _, err := io.ReadFull(r, data[:]); err != nil {
				return 0, errNoDPI
			}
			if data[8] != 1 { // unit: meter
				return 0, errNoDPI
			}
			ppm := binary.BigEndian.Uint32(data[:4])
			return float64(ppm) * 0.0254, nil
		case "IDAT", "IEND":
			return 0, errNoDPI
		}
		if _, err := io.CopyN(io.Discard, r, int64(length)+4); err != nil {
			return 0, errNoDPI
		}
	}
}

func jpegDPI(r io.Reader) (float64, error) {
	var marker [2]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil || marker != [2]byte{0xFF, 0xD8} {
		return 0, errNoDPI
	}
	for {
		if _, err := io.ReadFull(r, marker[:]); err != nil || marker[0] != 0xFF {
			return 0, errNoDPI
		}
		// SOS: image data starts, no APP0 found.
		if marker[1] == 0xDA {
			return 0, errNoDPI
		}
		var size [2]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return 0, errNoDPI
		}
		n := int(binary.BigEndian.Uint16(size[:])) - 2
		if n < 0 {
			return 0, errNoDPI
		}
		seg := make([]byte, n)
		if _, err := io.ReadFull(r, seg); err != nil {
			return 0, errNoDPI
		}
		if marker[1] != 0xE0 || n < 12 || string(seg[:5]) != "JFIF\x00" {
			continue
		}
		units := seg[7]
		x := float64(binary.BigEndian.Uint16(seg[8:10]))
		switch units {
		case 1:
			return x, nil
		case 2:
			return x * 2.54, nil
		}
		return 0, errNoDPI
	}
}

const (
	tiffTagXResolution    = 282
	tiffTagResolutionUnit = 296
	tiffTypeRational      = 5
	tiffTypeShort         = 3
)

func tiffDPI(r io.ReaderAt) (float64, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return 0, errNoDPI
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, errNoDPI
	}
	ifd := int64(order.Uint32(hdr[4:8]))

	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], ifd); err != nil {
		return 0, errNoDPI
	}
	entries := int(order.Uint16(cnt[:]))

	xres := 0.0
	unit := uint16(2) // inches
	entry := make([]byte, 12)
	for i := 0; i < entries; i++ {
		if _, err := r.ReadAt(entry, ifd+2+int64(i)*12); err != nil {
			return 0, errNoDPI
		}
		tag := order.Uint16(entry[:2])
		typ := order.Uint16(entry[2:4])
		switch {
		case tag == tiffTagXResolution && typ == tiffTypeRational:
			var rat [8]byte
			if _, err := r.ReadAt(rat[:], int64(order.Uint32(entry[8:12]))); err != nil {
				return 0, errNoDPI
			}
			num, den := order.Uint32(rat[:4]), order.Uint32(rat[4:])
			if den == 0 {
				return 0, errNoDPI
			}
			xres = float64(num) / float64(den)
		case tag == tiffTagResolutionUnit && typ == tiffTypeShort:
			unit = order.Uint16(entry[8:10])
		}
	}
	switch unit {
	case 2:
		return xres, nil
	case 3:
		return xres * 2.54, nil
	}
	return 0, errNoDPI
}

func bmpDPI(r io.Reader) (float64, error) {
	hdr := make([]byte, 46)
	if _, err := io.ReadFull(r, hdr); err != nil || string(hdr[:2]) != "BM" {
		return 0, errNoDPI
	}
	ppm := int32(binary.LittleEndian.Uint32(hdr[38:42]))
	if ppm <= 0 {
		return 0, errNoDPI
	}
	return float64(ppm) * 0.0254, nil
}

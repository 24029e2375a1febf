package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngWithDPI encodes a small PNG and inserts a pHYs chunk after IHDR.
func pngWithDPI(t *testing.T, dpi int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	raw := buf.Bytes()

	ppm := uint32(float64(dpi)/0.0254 + 0.5)
	data := make([]byte, 9)
	binary.BigEndian.PutUint32(data[0:4], ppm)
	binary.BigEndian.PutUint32(data[4:8], ppm)
	data[8] = 1

	chunk := make([]byte, 0, 21)
	chunk = binary.BigEndian.AppendUint32(chunk, 9)
	chunk = append(chunk, "pHYs"...)
	chunk = append(chunk, data...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(append([]byte("pHYs"), data...)))

	// signature (8) + IHDR chunk (4+4+13+4)
	const ihdrEnd = 33
	out := append([]byte{}, raw[:ihdrEnd]...)
	out = append(out, chunk...)
	return append(out, raw[ihdrEnd:]...)
}

// jpegWithDensity encodes a JPEG and inserts a JFIF APP0 segment.
func jpegWithDensity(t *testing.T, units byte, density uint16) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil))
	raw := buf.Bytes()

	app0 := []byte{0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, units}
	app0 = binary.BigEndian.AppendUint16(app0, density)
	app0 = binary.BigEndian.AppendUint16(app0, density)
	app0 = append(app0, 0x00, 0x00)

	out := append([]byte{}, raw[:2]...)
	out = append(out, app0...)
	return append(out, raw[2:]...)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadDPI_PNG(t *testing.T) {
	path := writeFile(t, "scan.png", pngWithDPI(t, 300))
	dpi, err := ReadDPI(path)
	require.NoError(t, err)
	assert.Equal(t, 300, dpi)

	// The chunk must not break decoding.
	_, err = NewImageCache().Load(path)
	assert.NoError(t, err)
}

func TestReadDPI_PNGWithoutPHYs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	dpi, err := ReadDPI(writeFile(t, "plain.png", buf.Bytes()))
	assert.Error(t, err)
	assert.Equal(t, 0, dpi)
}

func TestReadDPI_JPEG(t *testing.T) {
	dpi, err := ReadDPI(writeFile(t, "scan.jpg", jpegWithDensity(t, 1, 200)))
	require.NoError(t, err)
	assert.Equal(t, 200, dpi)

	// dots per centimeter
	dpi, err = ReadDPI(writeFile(t, "scan.jpeg", jpegWithDensity(t, 2, 118)))
	require.NoError(t, err)
	assert.Equal(t, 300, dpi)

	// aspect ratio only
	_, err = ReadDPI(writeFile(t, "aspect.jpg", jpegWithDensity(t, 0, 1)))
	assert.Error(t, err)
}

func TestReadDPI_TIFF(t *testing.T) {
	dpi, err := ReadDPI(createTestTIFF(t, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, 72, dpi)
}

func TestReadDPI_Unknown(t *testing.T) {
	_, err := ReadDPI(writeFile(t, "scan.gif", []byte("GIF89a")))
	assert.Error(t, err)

	_, err = ReadDPI(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestPixelSize(t *testing.T) {
	a4 := Papers[4]
	require.Equal(t, "A4", a4.Name)
	w, h := PixelSize(a4, 300)
	assert.Equal(t, 2481, w)
	assert.Equal(t, 3507, h)
}

func TestGuessDPI(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		paper string
		dpi   int
	}{
		{"A4 at 300", 2480, 3508, "A4", 300},
		{"A4 landscape", 3508, 2480, "A4", 300},
		{"Letter at 150", 1275, 1650, "Letter", 150},
		{"Letter at 600", 5100, 6600, "Letter", 600},
		{"Legal at 200", 1700, 2800, "Legal", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paper, dpi, ok := GuessDPI(tt.w, tt.h)
			require.True(t, ok)
			assert.Equal(t, tt.paper, paper.Name)
			assert.Equal(t, tt.dpi, dpi)
		})
	}

	_, _, ok := GuessDPI(1000, 1000)
	assert.False(t, ok, "a square page matches no paper size")
	_, _, ok = GuessDPI(0, 10)
	assert.False(t, ok)
}

func TestResolveDPI(t *testing.T) {
	assert.Equal(t, 600, ResolveDPI(600, 300, 2480, 3508))
	assert.Equal(t, 400, ResolveDPI(0, 400, 2480, 3508))
	assert.Equal(t, 150, ResolveDPI(0, 0, 1275, 1650))
	assert.Equal(t, DefaultDPI, ResolveDPI(0, 0, 1000, 1000))
}

package hocr

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tesseractSample mirrors the structure tesseract emits, including the
// area and paragraph levels and formatting tags inside words.
const tesseractSample = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <head><title></title></head>
 <body>
  <div class='ocr_page' id='page_1' title='image "scan 1.png"; bbox 0 0 2480 3508; ppageno 0'>
   <div class='ocr_carea' id='block_1_1' title="bbox 100 200 900 300">
    <p class='ocr_par' id='par_1_1' lang='eng' title="bbox 100 200 900 300">
     <span class='ocr_line' id='line_1_1' title="bbox 100 200 900 240; baseline 0 -8; x_size 40">
      <span class='ocrx_word' id='word_1_1' title='bbox 100 200 300 240; x_wconf 96'>Invoice</span>
      <span class='ocrx_word' id='word_1_2' title='bbox 320 200 500 240; x_wconf 91'><strong>No.</strong></span>
      <span class='ocrx_word' id='word_1_3' title='bbox 520 200 600 240; x_wconf 12'> </span>
     </span>
     <span class='ocr_header' id='line_1_2' title="bbox 100 260 400 300">
      <span class='ocrx_word' id='word_1_4' title='bbox 100 260 400 300; x_wconf 88'>Total&amp;Tax</span>
     </span>
    </p>
   </div>
  </div>
 </body>
</html>`

func TestParse_TesseractOutput(t *testing.T) {
	p, err := Parse(strings.NewReader(tesseractSample))
	require.NoError(t, err)

	assert.Equal(t, "page_1", p.ID)
	assert.Equal(t, "scan 1.png", p.ImageName)
	assert.Equal(t, 1, p.PageNumber)
	assert.Equal(t, BBox{0, 0, 2480, 3508}, p.BBox)

	require.Len(t, p.Lines, 2)
	first := p.Lines[0]
	assert.Equal(t, BBox{100, 200, 900, 240}, first.BBox)
	require.Len(t, first.Words, 2, "empty words are dropped")
	assert.Equal(t, "Invoice", first.Words[0].Text)
	assert.Equal(t, 96.0, first.Words[0].Confidence)
	assert.Equal(t, "No.", first.Words[1].Text)

	assert.Equal(t, "Total&Tax", p.Lines[1].Words[0].Text)
	assert.Equal(t, "Invoice No.\nTotal&Tax", p.Text())
	assert.Equal(t, 3, p.WordCount())
	assert.InDelta(t, (96+91+88)/3.0, p.MeanConfidence(), 1e-9)
}

func TestParse_WordsOutsideLines(t *testing.T) {
	doc := `<html><body><div class="ocr_page" title="bbox 0 0 100 100">
		<span class="ocrx_word" title="bbox 1 2 30 12; x_wconf 50">loose</span>
	</div></body></html>`

	p, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, p.Lines, 1)
	assert.Equal(t, BBox{1, 2, 30, 12}, p.Lines[0].BBox)
	assert.Equal(t, "page_1", p.ID)
}

func TestParse_LineWithoutBBoxUsesWords(t *testing.T) {
	doc := `<div class="ocr_page" title="bbox 0 0 100 100">
		<span class="ocrx_line">
			<span class="ocrx_word" title="bbox 10 10 20 20">a</span>
			<span class="ocrx_word" title="bbox 30 5 40 25">b</span>
		</span></div>`

	p, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, p.Lines, 1)
	assert.Equal(t, BBox{10, 5, 40, 25}, p.Lines[0].BBox)
}

func TestParse_NoPage(t *testing.T) {
	_, err := Parse(strings.NewReader("<html><body><p>nothing</p></body></html>"))
	assert.ErrorIs(t, err, ErrNoPage)
}

func TestParseAll_MultiplePages(t *testing.T) {
	doc := `<div class="ocr_page" title="bbox 0 0 10 10; ppageno 0"></div>
		<div class="ocr_page" title="bbox 0 0 10 10; ppageno 1"></div>`
	pages, err := ParseAll(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 2, pages[1].PageNumber)
}

func TestParseTitle(t *testing.T) {
	props := ParseTitle(`image "a b.png"; bbox 1 2 3 4;x_wconf 90 ; ;`)
	assert.Equal(t, []string{"a b.png"}, props["image"])
	assert.Equal(t, []string{"1", "2", "3", "4"}, props["bbox"])
	assert.Equal(t, []string{"90"}, props["x_wconf"])
	assert.Len(t, props, 3)
}

func TestParseBBox(t *testing.T) {
	bb, ok := ParseBBox("bbox 5 6 7 8; x_wconf 1")
	require.True(t, ok)
	assert.Equal(t, BBox{5, 6, 7, 8}, bb)
	assert.Equal(t, 2, bb.Width())
	assert.Equal(t, 2, bb.Height())

	_, ok = ParseBBox("bbox 1 2 3")
	assert.False(t, ok)
	_, ok = ParseBBox("bbox a b c d")
	assert.False(t, ok)
	_, ok = ParseBBox("x_wconf 4")
	assert.False(t, ok)
}

func TestBBox_UnionAndScale(t *testing.T) {
	var empty BBox
	a := BBox{0, 0, 10, 10}
	assert.Equal(t, a, empty.Union(a))
	assert.Equal(t, a, a.Union(empty))
	assert.Equal(t, BBox{0, 0, 20, 15}, a.Union(BBox{5, 5, 20, 15}))
	assert.Equal(t, BBox{0, 0, 25, 25}, a.Scale(2.5))
}

func TestPage_WriteRoundTrip(t *testing.T) {
	p := NewPage(`scan "1".png`, 3, 800, 600)
	p.Lines = []Line{{
		BBox: BBox{10, 10, 200, 40},
		Words: []Word{
			{Text: "Fish", BBox: BBox{10, 10, 90, 40}, Confidence: 93.6},
			{Text: "<&>", BBox: BBox{100, 10, 200, 40}, Confidence: 70},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))
	out := buf.String()
	assert.Contains(t, out, `content="ocr-batch"`)
	assert.Contains(t, out, "&lt;&amp;&gt;")
	assert.Contains(t, out, "x_wconf 94")

	back, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, p.ID, back.ID)
	assert.Equal(t, p.ImageName, back.ImageName)
	assert.Equal(t, 3, back.PageNumber)
	assert.Equal(t, p.BBox, back.BBox)
	require.Len(t, back.Lines, 1)
	assert.Equal(t, "Fish <&>", back.Lines[0].Text())
	assert.Equal(t, 94.0, back.Lines[0].Words[0].Confidence)
}

func TestPage_WriteFileAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hocr", "sub", "page.hocr")
	p := NewPage("page.png", 1, 100, 100)
	require.NoError(t, p.WriteFile(path))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, back.WordCount())
	assert.Equal(t, "", back.Text())
	assert.Equal(t, 0.0, back.MeanConfidence())
}

func TestPage_Scale(t *testing.T) {
	p := NewPage("x", 1, 100, 50)
	p.Lines = []Line{{BBox: BBox{10, 10, 20, 20}, Words: []Word{{Text: "a", BBox: BBox{10, 10, 20, 20}}}}}
	p.Scale(2)
	assert.Equal(t, BBox{0, 0, 200, 100}, p.BBox)
	assert.Equal(t, BBox{20, 20, 40, 40}, p.Lines[0].Words[0].BBox)

	p.Scale(1)
	assert.Equal(t, BBox{0, 0, 200, 100}, p.BBox)
}

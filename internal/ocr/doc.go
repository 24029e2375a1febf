// Package ocr runs optical character recognition on page images.
//
// Every engine returns its result as an hOCR page (package hocr), so the
// batch driver can write hOCR files and build searchable PDFs the same way
// whichever recognizer produced the text.
//
// # Engines
//
//   - TesseractEngine: the Tesseract library through gosseract/v2. This is
//     the default and needs libtesseract plus language data on the host.
//   - CommandEngine: any external program that prints hOCR, for example a
//     DocTR script using the db_resnet50 detection and parseq recognition
//     models.
//
// # Prerequisites
//
// Tesseract must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr libtesseract-dev
//   - macOS: brew install tesseract
//   - Windows: Download from https://github.com/UB-Mannheim/tesseract/wiki
//
// Language data files are required for each language, e.g.
// tesseract-ocr-deu for German. A custom tessdata directory can be given
// with Config.TessdataPrefix.
//
// # Languages
//
// Config.Language takes Tesseract codes joined by "+":
//   - "eng" - English (default)
//   - "deu" - German
//   - "eng+fra" - English and French on the same page
package ocr

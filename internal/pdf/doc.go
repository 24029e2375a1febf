// Package pdf builds searchable PDFs from scanned pages and hOCR text with
// go-pdf/fpdf, and merges, counts and optimizes PDF files with pdfcpu.
package pdf

// Package batch drives OCR over single images, PDFs and folder trees.
//
// A run creates a session directory below the output location, turns every
// input into pages, recognizes the pages concurrently and writes hOCR files
// and searchable PDFs:
//
//	folder of images  ->  pdf/<rel>/<folder>.pdf, hocr/<rel>/<image>.hocr
//	PDF               ->  pdf/<rel>/<name>_ocr.pdf, hocr/<rel>/<name>/<name>_page_0001.hocr
//	single image      ->  pdf/<name>.pdf, hocr/<name>.hocr
//
// Files are processed one after another; pages of a file share a bounded
// worker pool. A failing page or file is logged and recorded in the
// session's report.yaml, and the run continues.
package batch

// Package server implements the MCP (Model Context Protocol) server for
// batch OCR.
//
// The server speaks JSON-RPC 2.0 over stdio through mcp-go and exposes the
// batch driver, the PDF compressor and the diagnostics report as tools, so
// an MCP client can OCR a scanner folder and inspect the result.
//
// # Available Tools
//
// Batch OCR:
//   - ocr_process: Run a batch over an image, PDF or folder tree
//   - ocr_image: Recognize one image and return text and line boxes
//   - image_info: Dimensions, format and stored resolution of an image
//
// PDF:
//   - pdf_compress: Ghostscript compression of a file or directory
//
// Sessions and host:
//   - session_report: Read a finished session's report.yaml
//   - system_diagnostics: Host resources and tool availability
//
// Output and archive directories not passed to ocr_process fall back to the
// ones remembered in the settings, and every run updates them.
//
// # Error Handling
//
// Tool failures are returned as tool results with isError set and the Go
// error text as content, not as JSON-RPC errors. Successful results are
// indented JSON text.
//
// # Usage
//
//	srv := server.New(settings, version, logger)
//	if err := srv.ServeStdio(); err != nil {
//	    log.Fatal(err)
//	}
//
// Logging must not go to stdout while serving; the logging package writes
// to stderr.
package server

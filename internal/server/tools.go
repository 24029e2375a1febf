package server

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names.
const (
	toolOCRProcess        = "ocr_process"
	toolOCRImage          = "ocr_image"
	toolImageInfo         = "image_info"
	toolPDFCompress       = "pdf_compress"
	toolSessionReport     = "session_report"
	toolSystemDiagnostics = "system_diagnostics"
)

// Tool argument keys, shared by the schemas below and the argument structs
// in handlers.go.
const (
	argPath    = "path"
	argOutput  = "output"
	argArchive = "archive"
	argFormat  = "format"
	argDPI     = "dpi"
	argInput   = "input"
	argQuality = "quality"
	argType    = "type"
	argWorkers = "workers"
	argQuick   = "quick"
)

// toolDefinitions returns every tool the server exposes.
func toolDefinitions() []mcp.Tool {
	return []mcp.Tool{
		// Batch OCR
		mcp.NewTool(toolOCRProcess,
			mcp.WithDescription("Run OCR over an image, a PDF or a folder tree and write searchable PDFs "+
				"and/or hOCR files into a new session directory below the output location. "+
				"Returns the session report with per-file status and output paths."),
			mcp.WithString(argPath,
				mcp.Required(),
				mcp.Description("Absolute path to an image, a PDF or a directory"),
			),
			mcp.WithString(argOutput,
				mcp.Description("Directory that receives the session directory. Defaults to the last output used for this kind of input"),
			),
			mcp.WithString(argFormat,
				mcp.Description("Output format: PDF, HOCR or PDF+HOCR. Defaults to the configured format"),
				mcp.Enum("PDF", "HOCR", "PDF+HOCR"),
			),
			mcp.WithNumber(argDPI,
				mcp.Description("Fixed page resolution. 0 or omitted detects it per image"),
			),
			mcp.WithString(argArchive,
				mcp.Description("Move the sources here after a fully successful run. Requires archiving to be enabled in the settings"),
			),
		),
		mcp.NewTool(toolOCRImage,
			mcp.WithDescription("Recognize one image and return its text with line bounding boxes, without writing any files."),
			mcp.WithString(argPath,
				mcp.Required(),
				mcp.Description("Absolute path to the image file"),
			),
			mcp.WithNumber(argDPI,
				mcp.Description("Image resolution passed to the engine. 0 or omitted detects it"),
			),
		),
		mcp.NewTool(toolImageInfo,
			mcp.WithDescription("Return the dimensions, format, color depth, file size and stored resolution of an image."),
			mcp.WithString(argPath,
				mcp.Required(),
				mcp.Description("Absolute path to the image file"),
			),
		),

		// PDF tools
		mcp.NewTool(toolPDFCompress,
			mcp.WithDescription("Compress a PDF, or every PDF below a directory, with Ghostscript. "+
				"A file that would grow is kept at its original size."),
			mcp.WithString(argInput,
				mcp.Required(),
				mcp.Description("PDF file or directory of PDFs"),
			),
			mcp.WithString(argOutput,
				mcp.Required(),
				mcp.Description("Output PDF file, or output directory when input is a directory"),
			),
			mcp.WithNumber(argQuality,
				mcp.Description("Image quality 1-100. Defaults to the configured compression quality"),
			),
			mcp.WithString(argType,
				mcp.Description("Image compression filter. Defaults to the configured compression type"),
				mcp.Enum("jpeg", "jpeg2000", "lzw", "flate", "png"),
			),
			mcp.WithNumber(argWorkers,
				mcp.Description("Parallel files when compressing a directory. Defaults to the configured thread count"),
			),
		),

		// Sessions and host
		mcp.NewTool(toolSessionReport,
			mcp.WithDescription("Read the report of a finished session."),
			mcp.WithString(argPath,
				mcp.Required(),
				mcp.Description("Session directory or its report.yaml"),
			),
		),
		mcp.NewTool(toolSystemDiagnostics,
			mcp.WithDescription("Report host resources, OCR engine and Ghostscript availability, and a suggested worker count."),
			mcp.WithBoolean(argQuick,
				mcp.Description("Skip the one second CPU usage sample. Defaults to true"),
			),
		),
	}
}

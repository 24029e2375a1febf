package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/ironsheep/ocr-batch/internal/batch"
	"github.com/ironsheep/ocr-batch/internal/ghostscript"
	"github.com/ironsheep/ocr-batch/internal/imaging"
	"github.com/ironsheep/ocr-batch/internal/ocr"
	"github.com/ironsheep/ocr-batch/internal/settings"
	"github.com/ironsheep/ocr-batch/internal/sysinfo"
)

// Name is the server name reported during the MCP handshake.
const Name = "ocr-batch"

// Server exposes batch OCR, PDF compression and diagnostics as MCP tools.
type Server struct {
	mcp       *server.MCPServer
	settings  *settings.Settings
	logger    zerolog.Logger
	cache     *imaging.ImageCache
	collector *sysinfo.Collector

	newProcessor   func(cfg batch.Config) (*batch.Processor, error)
	newEngine      func() (ocr.Engine, error)
	newGhostscript func() (*ghostscript.Ghostscript, error)

	// runMu serializes batch runs; each one already uses every worker.
	runMu sync.Mutex
	// saveMu guards settings updates after a run.
	saveMu sync.Mutex
}

// New creates a server using s for defaults and remembered directories.
func New(s *settings.Settings, version string, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()
	srv := &Server{
		mcp:       server.NewMCPServer(Name, version, server.WithToolCapabilities(false)),
		settings:  s,
		logger:    logger,
		cache:     imaging.NewImageCache(),
		collector: sysinfo.NewCollector(logger),
	}
	srv.newProcessor = func(cfg batch.Config) (*batch.Processor, error) {
		return batch.NewFromSettings(s, cfg, logger)
	}
	srv.newEngine = func() (ocr.Engine, error) {
		return ocr.New(batch.EngineConfig(s), logger)
	}
	srv.newGhostscript = func() (*ghostscript.Ghostscript, error) {
		return ghostscript.New(s.Paths.Ghostscript, logger.With().Str("component", "ghostscript").Logger())
	}
	srv.registerTools()
	return srv
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin and stdout until stdin closes or the
// process receives SIGINT or SIGTERM.
func (s *Server) ServeStdio() error {
	s.logger.Info().Msg("serving MCP on stdio")
	return server.ServeStdio(s.mcp)
}

// toolFunc is a tool implementation taking the raw JSON arguments.
type toolFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

func (s *Server) registerTools() {
	handlers := map[string]toolFunc{
		toolOCRProcess:        s.handleOCRProcess,
		toolOCRImage:          s.handleOCRImage,
		toolImageInfo:         s.handleImageInfo,
		toolPDFCompress:       s.handlePDFCompress,
		toolSessionReport:     s.handleSessionReport,
		toolSystemDiagnostics: s.handleSystemDiagnostics,
	}
	for _, tool := range toolDefinitions() {
		s.mcp.AddTool(tool, s.wrap(tool.Name, handlers[tool.Name]))
	}
}

// wrap adapts a toolFunc to the MCP handler signature. Results are returned
// as indented JSON text; failures become tool errors so the client sees
// the message instead of a protocol error.
func (s *Server) wrap(name string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}

		start := time.Now()
		result, err := fn(ctx, args)
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", name).Msg("tool failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Debug().Str("tool", name).Dur("elapsed", time.Since(start)).Msg("tool finished")
		return mcp.NewToolResultText(mustMarshalJSON(result)), nil
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/ironsheep/ocr-batch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the OCR tools over MCP on stdin/stdout",
	Long: `Start an MCP (Model Context Protocol) server on stdio exposing ocr_process,
ocr_image, image_info, pdf_compress, session_report and system_diagnostics.

Configure it as a stdio server in your MCP client. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		e.logger.Debug().Str("version", Version).Str("commit", GitCommit).Msg("starting MCP server")
		return server.New(e.settings, Version, e.logger).ServeStdio()
	},
}

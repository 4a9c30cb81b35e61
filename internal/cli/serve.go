package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/medfuse/internal/server"
)

var (
	serveAddr  string
	serveGrace time.Duration
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Serve starts the HTTP API:
  POST /api/ask       {"patient_id": "...", "question": "..."} -> result JSON
  GET  /api/patients  patients known to the graph
  GET  /api/health    liveness
  GET  /metrics       Prometheus metrics

Example:
  medfuse serve
  medfuse serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().DurationVar(&serveGrace, "shutdown-grace", 30*time.Second, "time allowed for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	fmt.Fprintf(os.Stderr, "✓ medfuse %s listening on %s\n", Version, cfg.Server.Addr)
	srv := server.New(a.pipeline, a.graph, a.metrics, Version)
	return srv.ListenAndServe(ctx, cfg.Server.Addr, serveGrace)
}

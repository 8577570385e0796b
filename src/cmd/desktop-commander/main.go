package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"desktop-commander/src/clipboard"
	"desktop-commander/src/config"
	"desktop-commander/src/desktop"
	"desktop-commander/src/hotkey"
	"desktop-commander/src/input"
	"desktop-commander/src/logutil"
	"desktop-commander/src/mcp"
	"desktop-commander/src/ocr"
	"desktop-commander/src/perception"
	"desktop-commander/src/screenshot"
	"desktop-commander/src/template"
	"desktop-commander/src/worker"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024

	queuePerWorker = 4
)

var version = "dev"

type serveOptions struct {
	transport string
	host      string
	port      int
	envFile   string
	verbose   bool
}

type scanOptions struct {
	filePath   string
	find       string
	confidence float64
	jsonOutput bool
	verbose    bool
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}
	root := &cobra.Command{
		Use:           "desktop-commander",
		Short:         "MCP server for screen perception and input control",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *opts)
		},
	}
	addServeFlags(root, opts)

	serveOpts := &serveOptions{}
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *serveOpts)
		},
	}
	addServeFlags(serve, serveOpts)

	root.AddCommand(serve, newScanCmd(&scanOptions{}))
	return root
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.transport, "transport", "", "stdio or http (default from MCP_TRANSPORT, else stdio)")
	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "HTTP listen host")
	cmd.Flags().IntVar(&opts.port, "port", 0, "HTTP listen port (default from MCP_HTTP_ADDRESS)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "Path to .env file (highest precedence)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")
}

func newScanCmd(opts *scanOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run OCR on a PNG file and print the recognized elements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts.withDefaults(cmd.Flags().Changed("confidence")), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to PNG file (use '-' for stdin)")
	cmd.Flags().StringVar(&opts.find, "find", "", "Only report elements containing this text")
	cmd.Flags().Float64Var(&opts.confidence, "confidence", desktop.DefaultAnalyzeConfidence, "Minimum confidence 0.0-1.0 (0.35 with --find)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "Path to .env file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// withDefaults applies the text-search floor to --find when no confidence
// was given on the command line.
func (o scanOptions) withDefaults(confidenceSet bool) scanOptions {
	if !confidenceSet && o.find != "" {
		o.confidence = perception.DefaultTextConfidence
	}
	return o
}

func (o serveOptions) httpAddress() string {
	if o.port <= 0 {
		return ""
	}
	return net.JoinHostPort(o.host, strconv.Itoa(o.port))
}

func runServe(parent context.Context, opts serveOptions) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		EnvFile:     opts.envFile,
		Transport:   opts.transport,
		HTTPAddress: opts.httpAddress(),
		Verbose:     opts.verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// stdout belongs to the protocol on stdio; logs go to stderr or nowhere.
	if cfg.Verbose || cfg.EnableFileLogging {
		logutil.Setup(cfg.EnableFileLogging)
	} else {
		log.SetOutput(io.Discard)
	}

	enableDPIAwareness()

	engine, err := ocr.New(ocr.Options{Engine: cfg.OCREngine, TesseractCmd: cfg.TesseractCmd})
	if err != nil {
		log.Printf("OCR unavailable: %v", err)
		engine = nil
	}

	robot := input.NewRobot(cfg.ActionPause)
	commander := desktop.New(screenshot.Screen{}, desktop.Options{
		Engine:      engine,
		Matcher:     template.NewCV(),
		Pointer:     robot,
		Language:    cfg.OCRLanguage,
		PageSegMode: cfg.OCRPageSegMode,
	})

	pool := worker.New(cfg.WorkerCount, cfg.WorkerCount*queuePerWorker)
	defer pool.Close()

	server := mcp.NewServer(mcp.Options{
		Commander: commander,
		Input:     robot,
		Clipboard: clipboard.System{},
		Pool:      pool,
		Version:   version,
	})

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			log.Printf("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.FailsafeHotkey != "" {
		err := hotkey.Listen(ctx, cfg.FailsafeHotkey, func() {
			log.Printf("Failsafe hotkey %s pressed, shutting down", cfg.FailsafeHotkey)
			cancel()
		})
		if err != nil {
			log.Printf("Failsafe hotkey disabled: %v", err)
		}
	}

	log.Printf("Desktop Commander %s starting (transport=%s, workers=%d, pause=%s)", version, cfg.Transport, cfg.WorkerCount, cfg.ActionPause)

	if cfg.Transport == config.TransportHTTP {
		return mcp.NewHTTPTransport(cfg.HTTPAddress).Serve(ctx, server)
	}
	return mcp.NewStdioTransport(os.Stdin, os.Stdout).Serve(ctx, server)
}

type scanResult struct {
	Source        string            `json:"source"`
	Timestamp     string            `json:"timestamp"`
	Duration      float64           `json:"duration_seconds"`
	TotalDetected int               `json:"total_detected"`
	Elements      []desktop.Element `json:"elements"`
}

func runScan(opts scanOptions, stdin io.Reader, stdout io.Writer) error {
	if !opts.verbose {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(os.Stderr)
	}
	if opts.confidence < 0 || opts.confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %v", opts.confidence)
	}

	imageData, err := readInput(opts.filePath, stdin)
	if err != nil {
		return err
	}
	img, err := screenshot.DecodePNG(imageData)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{EnvFile: opts.envFile, Verbose: opts.verbose})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	engine, err := ocr.New(ocr.Options{Engine: cfg.OCREngine, TesseractCmd: cfg.TesseractCmd})
	if err != nil {
		return fmt.Errorf("OCR unavailable: %w", err)
	}

	w, h := img.Size()
	commander := desktop.New(img, desktop.Options{
		Engine:      engine,
		Pointer:     staticPointer{width: w, height: h},
		Language:    cfg.OCRLanguage,
		PageSegMode: cfg.OCRPageSegMode,
	})

	start := time.Now()
	analysis, err := commander.Analyze(desktop.AnalyzeRequest{
		FindText:   opts.find,
		Confidence: opts.confidence,
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	log.Printf("Scan completed in %v, %d elements", elapsed, len(analysis.Elements))

	return writeScan(stdout, opts, analysis, elapsed)
}

func readInput(filePath string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if filePath == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
		}
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	return data, nil
}

func writeScan(w io.Writer, opts scanOptions, analysis *desktop.Analysis, elapsed time.Duration) error {
	if opts.jsonOutput {
		total := len(analysis.Elements)
		if analysis.TotalDetected != nil {
			total = *analysis.TotalDetected
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(scanResult{
			Source:        opts.filePath,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Duration:      elapsed.Seconds(),
			TotalDetected: total,
			Elements:      analysis.Elements,
		}); err != nil {
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
		return nil
	}

	for _, el := range analysis.Elements {
		text := ""
		if el.Text != nil {
			text = *el.Text
		}
		fmt.Fprintf(w, "%d,%d\t%.2f\t%s\n", el.X, el.Y, el.Confidence, text)
	}
	return nil
}

// staticPointer reports a fixed screen size and a pointer at the origin.
type staticPointer struct{ width, height int }

func (p staticPointer) Location() (int, int) { return 0, 0 }
func (p staticPointer) ScreenSize() (int, int) { return p.width, p.height }

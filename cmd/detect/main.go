package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kirillkom/store-app-detector/internal/bootstrap"
	"github.com/kirillkom/store-app-detector/internal/config"
	"github.com/kirillkom/store-app-detector/internal/core/domain"
	"github.com/kirillkom/store-app-detector/internal/core/usecase"
	"github.com/kirillkom/store-app-detector/internal/observability/logging"
)

type options struct {
	baseURL string
	timeout time.Duration
	output  string
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if err := newRootCommand(cfg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(cfg config.Config) *cobra.Command {
	opts := options{
		baseURL: cfg.DetectionAPIURL,
		timeout: time.Duration(cfg.DetectionTimeoutSeconds) * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "detect <store-url>",
		Short: "Detect the apps installed on a Shopify store",
		Long: `detect runs the four detection phases (validate, extract and analyze, catalog search,
finalize) against the detection service and prints the detected apps with their catalog match.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveFormat(opts.output, term.IsTerminal(int(os.Stdout.Fd())))
			if err != nil {
				return err
			}
			cfg.DetectionAPIURL = opts.baseURL
			cfg.DetectionTimeoutSeconds = int(opts.timeout.Round(time.Second) / time.Second)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, args[0], format, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "base-url", opts.baseURL, "detection service base URL")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", opts.timeout, "timeout for each detection phase")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output format: text, json or yaml (default text on a terminal, json otherwise)")
	return cmd
}

func run(ctx context.Context, cfg config.Config, storeURL string, format outputFormat, stdout, stderr io.Writer) error {
	logger := logging.New(stderr, "detect", "warn")
	client := bootstrap.NewDetectionClient(cfg, logger, nil)
	detector := usecase.NewDetectStoreUseCase(client, nil, logger)

	var (
		result *domain.DetectionResult
		failed *domain.ProgressEvent
	)
	for event := range detector.Stream(ctx, strings.TrimSpace(storeURL)) {
		switch event.Type {
		case domain.EventProgress:
			printProgress(stderr, event)
		case domain.EventComplete:
			result = event.Result
		case domain.EventError:
			e := event
			failed = &e
		}
	}

	if failed != nil {
		return fmt.Errorf("%s", failed.Message)
	}
	if result == nil {
		return fmt.Errorf("detection ended without a result")
	}
	return render(stdout, format, result)
}

func printProgress(w io.Writer, event domain.ProgressEvent) {
	if event.AppsFound != nil {
		fmt.Fprintf(w, "      %s\n", event.Message)
		return
	}
	fmt.Fprintf(w, "[%d/4] %s\n", stepNumber(event.Step), event.Message)
}

func stepNumber(step domain.Step) int {
	switch step {
	case domain.StepValidating:
		return 1
	case domain.StepExtracting:
		return 2
	case domain.StepSearching:
		return 3
	case domain.StepFinalizing:
		return 4
	default:
		return 0
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sonicgenius/api/internal/client"
	"github.com/sonicgenius/api/internal/config"
	"github.com/sonicgenius/api/internal/logging"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/internal/service"
)

// Analyzer is the analysis surface the CLI drives
type Analyzer interface {
	AnalyzeByText(ctx context.Context, query string) (*model.AnalysisResult, error)
	AnalyzeByVideoReference(ctx context.Context, url string) (*model.AnalysisResult, error)
	AnalyzeByAudio(ctx context.Context, r io.Reader, mediaType string) (*model.AnalysisResult, error)
}

var (
	outputFormat string
	showFusion   bool
	logLevel     string

	// newAnalyzer is swapped in tests
	newAnalyzer = defaultAnalyzer
)

var rootCmd = &cobra.Command{
	Use:           "sonicgenius",
	Short:         "SonicGenius - reverse engineer the sound of a track",
	Long:          "SonicGenius analyzes a song by name, video link or audio file and prints a structured production breakdown with Suno style prompts.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")
	rootCmd.PersistentFlags().BoolVar(&showFusion, "fusion", false, "Print only the fusion style prompt")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")

	rootCmd.AddCommand(textCmd, videoCmd, audioCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func defaultAnalyzer() (Analyzer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupWithWriter(os.Stderr, logLevel)

	svc, err := service.NewAnalysisService(client.NewGeminiClient(&cfg.Gemini), service.AnalysisOptions{
		Language:      cfg.Analysis.Language,
		Timeout:       cfg.Gemini.RequestTimeout(),
		MaxAudioBytes: cfg.Analysis.MaxAudioBytes(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

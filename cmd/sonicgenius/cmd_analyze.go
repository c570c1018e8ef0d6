package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/model"
)

var audioMIME string

var textCmd = &cobra.Command{
	Use:   "text <query>",
	Short: "Analyze a track by name or description",
	Example: `  sonicgenius text "Bohemian Rhapsody - Queen"
  sonicgenius text "daft punk around the world" --output yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAnalyzer()
		if err != nil {
			return err
		}
		result, err := a.AnalyzeByText(cmd.Context(), strings.Join(args, " "))
		return finish(cmd, model.ModeText, result, err)
	},
}

var videoCmd = &cobra.Command{
	Use:     "video <url>",
	Short:   "Analyze the track behind a video link",
	Example: `  sonicgenius video https://www.youtube.com/watch?v=fJ9rUzIMcZQ`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAnalyzer()
		if err != nil {
			return err
		}
		result, err := a.AnalyzeByVideoReference(cmd.Context(), args[0])
		return finish(cmd, model.ModeVideo, result, err)
	},
}

var audioCmd = &cobra.Command{
	Use:   "audio <file>",
	Short: "Analyze an audio or video file",
	Example: `  sonicgenius audio demo.mp3
  sonicgenius audio take.bin --mime audio/wav`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return finish(cmd, model.ModeAudio, nil, analysis.InputReadError(err))
		}

		mediaType := audioMIME
		if mediaType == "" {
			mediaType = sniffMediaType(data)
		}

		a, err := newAnalyzer()
		if err != nil {
			return err
		}
		result, err := a.AnalyzeByAudio(cmd.Context(), bytes.NewReader(data), mediaType)
		return finish(cmd, model.ModeAudio, result, err)
	},
}

func init() {
	audioCmd.Flags().StringVar(&audioMIME, "mime", "", "Media type of the file (sniffed when empty)")
}

func sniffMediaType(data []byte) string {
	mt := mimetype.Detect(data)
	if mt.Is("application/octet-stream") {
		return analysis.DefaultAudioMediaType
	}
	return strings.SplitN(mt.String(), ";", 2)[0]
}

func finish(cmd *cobra.Command, mode model.AnalysisMode, result *model.AnalysisResult, err error) error {
	if err != nil {
		if analysis.KindOf(err) != "" {
			return fmt.Errorf("%s: %w", analysis.Describe(err, mode), err)
		}
		return err
	}

	resp := analysis.NewResponse(mode, result)
	if showFusion {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), resp.Prompts.Fusion.Text)
		return err
	}
	return render(cmd.OutOrStdout(), outputFormat, resp)
}

package cmd

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/engine"
	"github.com/andresmejia3/veritas/internal/pipeline"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
)

type imageOptions struct {
	InputPath  string
	DebugCrops string
}

var imageOpts imageOptions

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Score the largest face in a still image",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImage(cmd, imageOpts)
	},
}

func init() {
	imageCmd.Flags().StringVarP(&imageOpts.InputPath, "input", "i", "", "Path to a JPG or PNG image")
	imageCmd.Flags().StringVar(&imageOpts.DebugCrops, "debug-crops", "", "Directory to write the normalized face crop to")

	imageCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(imageCmd)
}

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

func runImage(cmd *cobra.Command, opts imageOptions) error {
	if err := validateInput(opts.InputPath, imageExtensions); err != nil {
		utils.ShowError("Invalid input", err, nil)
		return err
	}
	if err := prepareCropDir(opts.DebugCrops); err != nil {
		return err
	}

	f, err := os.Open(opts.InputPath)
	if err != nil {
		return err
	}
	frame, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		utils.ShowError("Failed to decode image", err, nil)
		return err
	}

	ctx := cmd.Context()
	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	var runOpts []pipeline.Option
	if opts.DebugCrops != "" {
		runOpts = append(runOpts, pipeline.WithCropHook(cropWriter(opts.DebugCrops)))
	}
	analysis, err := p.AnalyzeImage(ctx, frame, runOpts...)
	if err != nil {
		utils.ShowError("Image analysis failed", err, engine.WorkerLogs(p.Handles()))
		return err
	}

	id := persist(ctx, opts.InputPath, types.ModeImage, analysis)
	return report(opts.InputPath, types.ModeImage, analysis, id)
}

// validateInput checks that path is a regular file with one of the allowed extensions.
func validateInput(path string, allowed []string) error {
	if path == "" {
		return fmt.Errorf("input path is required")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("input path is a directory, not a file: %s", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowed {
		if ext == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported file type %q (want one of %s)", ext, strings.Join(allowed, ", "))
}

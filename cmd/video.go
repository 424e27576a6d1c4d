package cmd

import (
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/engine"
	"github.com/andresmejia3/veritas/internal/pipeline"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/andresmejia3/veritas/internal/video"
)

type videoOptions struct {
	InputPath  string
	SampleRate int
	MaxFrames  int
	DebugCrops string
	Decoder    string
}

var videoOpts videoOptions

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Sample a video and score the largest face in every sampled frame",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Unset flags fall back to the environment configuration.
		if !cmd.Flags().Changed("sample-rate") {
			videoOpts.SampleRate = Cfg.Pipeline.SampleRate
		}
		if !cmd.Flags().Changed("max-frames") {
			videoOpts.MaxFrames = Cfg.Pipeline.MaxSampledFrames
		}
		return runVideo(cmd, videoOpts)
	},
}

func init() {
	videoCmd.Flags().StringVarP(&videoOpts.InputPath, "input", "i", "", "Path to an MP4, AVI or MOV video")
	videoCmd.Flags().IntVarP(&videoOpts.SampleRate, "sample-rate", "n", video.DefaultSampleRate, "Analyze every Nth decoded frame")
	videoCmd.Flags().IntVar(&videoOpts.MaxFrames, "max-frames", 0, "Stop classifying after this many sampled frames (0 = no limit)")
	videoCmd.Flags().StringVar(&videoOpts.DebugCrops, "debug-crops", "", "Directory to write every normalized face crop to")
	videoCmd.Flags().StringVar(&videoOpts.Decoder, "decoder", video.DecoderRaw, "Frame transport from ffmpeg: raw or mjpeg")

	videoCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(videoCmd)
}

var videoExtensions = []string{".mp4", ".avi", ".mov"}

func runVideo(cmd *cobra.Command, opts videoOptions) error {
	if err := validateVideoFlags(&opts); err != nil {
		utils.ShowError("Invalid flags", err, nil)
		return err
	}
	if err := prepareCropDir(opts.DebugCrops); err != nil {
		return err
	}
	Cfg.Pipeline.SampleRate = opts.SampleRate
	Cfg.Pipeline.MaxSampledFrames = opts.MaxFrames

	ctx := cmd.Context()

	total := -1
	if info, err := video.Probe(ctx, opts.InputPath); err != nil {
		slog.Warn("could not probe video, progress total unknown", "error", err)
	} else {
		if info.Frames > 0 {
			total = info.Frames
		}
		fmt.Fprintf(os.Stderr, "📼 %dx%d @ %.2f fps, %d frames\n", info.Width, info.Height, info.FPS, info.Frames)
	}

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	src, err := video.Open(ctx, opts.InputPath, opts.Decoder)
	if err != nil {
		utils.ShowError("Failed to start ffmpeg", err, nil)
		return err
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 Veritas Analyzing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	runOpts := []pipeline.Option{pipeline.WithProgress(func() { bar.Add(1) })}
	if opts.DebugCrops != "" {
		runOpts = append(runOpts, pipeline.WithCropHook(cropWriter(opts.DebugCrops)))
	}

	start := time.Now()
	analysis, err := p.AnalyzeVideo(ctx, src, runOpts...)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		utils.ShowError("Video analysis failed", err, engine.WorkerLogs(p.Handles()))
		return err
	}
	fmt.Fprintf(os.Stderr, "⏱️  Finished in %s\n", utils.FmtDuration(time.Since(start)))

	id := persist(ctx, opts.InputPath, types.ModeVideo, analysis)
	return report(opts.InputPath, types.ModeVideo, analysis, id)
}

func validateVideoFlags(opts *videoOptions) error {
	if err := validateInput(opts.InputPath, videoExtensions); err != nil {
		return err
	}
	if opts.SampleRate < 1 {
		return fmt.Errorf("--sample-rate must be >= 1, got %d", opts.SampleRate)
	}
	if opts.MaxFrames < 0 {
		return fmt.Errorf("--max-frames must be >= 0, got %d", opts.MaxFrames)
	}
	if opts.Decoder != video.DecoderRaw && opts.Decoder != video.DecoderMJPEG {
		return fmt.Errorf("--decoder must be %q or %q, got %q", video.DecoderRaw, video.DecoderMJPEG, opts.Decoder)
	}
	return nil
}

func prepareCropDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		utils.ShowError("Failed to create crop directory", err, nil)
		return err
	}
	return nil
}

// cropWriter saves each normalized crop as frame_NNNNNN.png under dir.
func cropWriter(dir string) func(int, *image.RGBA) {
	return func(index int, crop *image.RGBA) {
		path := filepath.Join(dir, fmt.Sprintf("frame_%06d.png", index))
		f, err := os.Create(path)
		if err != nil {
			slog.Warn("could not write crop", "path", path, "error", err)
			return
		}
		defer f.Close()
		if err := png.Encode(f, crop); err != nil {
			slog.Warn("could not encode crop", "path", path, "error", err)
		}
	}
}

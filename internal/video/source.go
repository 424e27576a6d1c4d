// Package video decodes frames with ffmpeg and samples them at a fixed rate.
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"

	"github.com/andresmejia3/veritas/internal/utils"
)

const megabyte = 1024 * 1024

// Decoder names accepted by Open.
const (
	DecoderRaw   = "raw"
	DecoderMJPEG = "mjpeg"
)

// Source yields decoded frames in order. Next returns io.EOF after the last frame.
// Close must be safe to call more than once.
type Source interface {
	Next() (image.Image, error)
	Close() error
}

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is a bufio.SplitFunc that extracts whole JPEG images between the
// SOI (FFD8) and EOI (FFD9) markers, skipping any bytes in between images.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// RawReader reads packed RGBA frames of a fixed geometry.
type RawReader struct {
	r      io.Reader
	width  int
	height int
}

// NewRawReader reads width x height RGBA frames from r.
func NewRawReader(r io.Reader, width, height int) *RawReader {
	return &RawReader{r: r, width: width, height: height}
}

func (rr *RawReader) Next() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, rr.width, rr.height))
	if _, err := io.ReadFull(rr.r, img.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated raw frame: %w", err)
		}
		return nil, err
	}
	return img, nil
}

func (rr *RawReader) Close() error { return nil }

// MJPEGReader splits a concatenated JPEG stream and decodes each image.
type MJPEGReader struct {
	scanner *bufio.Scanner
}

// NewMJPEGReader reads an image2pipe MJPEG stream from r.
func NewMJPEGReader(r io.Reader) *MJPEGReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)
	return &MJPEGReader{scanner: scanner}
}

func (m *MJPEGReader) Next() (image.Image, error) {
	if !m.scanner.Scan() {
		if err := m.scanner.Err(); err != nil {
			return nil, fmt.Errorf("frame scanner failed: %w", err)
		}
		return nil, io.EOF
	}
	img, err := jpeg.Decode(bytes.NewReader(m.scanner.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg frame: %w", err)
	}
	return img, nil
}

func (m *MJPEGReader) Close() error { return nil }

// ffmpegSource owns an ffmpeg process and the frame reader attached to its stdout.
type ffmpegSource struct {
	Source
	cmd       *utils.SafeCommand
	out       io.ReadCloser
	closeOnce sync.Once
	closeErr  error
}

// Open starts ffmpeg on path and returns a Source for the chosen decoder.
// The raw decoder needs the stream geometry, so it probes first.
func Open(ctx context.Context, path, decoder string) (Source, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	switch decoder {
	case DecoderRaw, "":
		info, err := Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		cmd := utils.NewSafeCommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
			"-noautorotate", "-i", path, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
		return start(cmd, func(r io.Reader) Source { return NewRawReader(r, info.Width, info.Height) })
	case DecoderMJPEG:
		cmd := utils.NewSafeCommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
			"-i", path, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
		return start(cmd, func(r io.Reader) Source { return NewMJPEGReader(r) })
	default:
		return nil, fmt.Errorf("unknown decoder %q (want %s or %s)", decoder, DecoderRaw, DecoderMJPEG)
	}
}

func start(cmd *utils.SafeCommand, reader func(io.Reader) Source) (Source, error) {
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &ffmpegSource{
		Source: reader(bufio.NewReaderSize(out, megabyte)),
		cmd:    cmd,
		out:    out,
	}, nil
}

// Close stops ffmpeg and reaps it. A non-zero exit after an early close is expected
// and not reported; failures with captured stderr are.
func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.out.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		if err := s.cmd.Wait(); err != nil && s.cmd.Stderr.Len() > 0 {
			s.closeErr = fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(s.cmd.Stderr.Bytes()))
		}
	})
	return s.closeErr
}

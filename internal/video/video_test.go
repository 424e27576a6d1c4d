package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"slices"
	"testing"
)

// fakeSource yields n solid frames, then err (io.EOF by default).
type fakeSource struct {
	n      int
	served int
	err    error
	closed int
}

func (f *fakeSource) Next() (image.Image, error) {
	if f.served >= f.n {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	f.served++
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *fakeSource) Close() error {
	f.closed++
	return nil
}

func collect(s *Sampler) []int {
	var got []int
	for i := range s.Frames() {
		got = append(got, i)
	}
	return got
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		rate   int
		want   []int
	}{
		{"23 At 5", 23, 5, []int{0, 5, 10, 15, 20}},
		{"Every Frame", 3, 1, []int{0, 1, 2}},
		{"Empty", 0, 5, nil},
		{"Shorter Than Rate", 4, 5, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSampler(&fakeSource{n: tt.frames}, tt.rate)
			if err != nil {
				t.Fatal(err)
			}
			if got := collect(s); !slices.Equal(got, tt.want) {
				t.Errorf("indices = %v, want %v", got, tt.want)
			}
			if s.Seen() != tt.frames {
				t.Errorf("Seen() = %d, want %d", s.Seen(), tt.frames)
			}
			if s.Err() != nil {
				t.Errorf("Err() = %v after a clean end", s.Err())
			}
		})
	}
}

func TestSampler_SinglePass(t *testing.T) {
	s, _ := NewSampler(&fakeSource{n: 10}, 5)
	if got := collect(s); len(got) != 2 {
		t.Fatalf("first pass = %v", got)
	}
	if got := collect(s); len(got) != 0 {
		t.Errorf("second pass yielded %v, want nothing", got)
	}
	if s.Seen() != 10 {
		t.Errorf("Seen() = %d after second pass", s.Seen())
	}
}

func TestSampler_DecodeErrorEnds(t *testing.T) {
	boom := errors.New("corrupt packet")
	src := &fakeSource{n: 7, err: boom}
	s, _ := NewSampler(src, 5)
	if got := collect(s); !slices.Equal(got, []int{0, 5}) {
		t.Errorf("indices = %v", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want %v", s.Err(), boom)
	}
	if s.Seen() != 7 {
		t.Errorf("Seen() = %d, want 7", s.Seen())
	}
	if src.closed != 0 {
		t.Error("sampler must not close the source")
	}
}

func TestSampler_EarlyBreakAndHooks(t *testing.T) {
	calls := 0
	s, _ := NewSampler(&fakeSource{n: 20}, 5, WithFrameHook(func() { calls++ }))
	for i := range s.Frames() {
		if i == 5 {
			break
		}
	}
	if s.Seen() != 6 || calls != 6 {
		t.Errorf("Seen() = %d, hook calls = %d; want 6, 6", s.Seen(), calls)
	}
}

func TestSampler_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := NewSampler(&fakeSource{n: 20}, 5, WithContext(ctx))
	if got := collect(s); len(got) != 0 {
		t.Errorf("cancelled sampler yielded %v", got)
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err() = %v", s.Err())
	}
}

func TestNewSampler_Invalid(t *testing.T) {
	if _, err := NewSampler(&fakeSource{}, 0); err == nil {
		t.Error("expected error for rate 0")
	}
	if _, err := NewSampler(nil, 5); err == nil {
		t.Error("expected error for nil source")
	}
}

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00}
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...)

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestRawReader(t *testing.T) {
	// Two 2x1 frames followed by half a frame.
	stream := []byte{
		1, 2, 3, 255, 4, 5, 6, 255,
		7, 8, 9, 255, 10, 11, 12, 255,
		13, 14, 15,
	}
	r := NewRawReader(bytes.NewReader(stream), 2, 1)

	first, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got := first.(*image.RGBA).RGBAAt(1, 0); got != (color.RGBA{4, 5, 6, 255}) {
		t.Errorf("pixel = %v", got)
	}
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated frame err = %v", err)
	}

	empty := NewRawReader(bytes.NewReader(nil), 2, 1)
	if _, err := empty.Next(); err != io.EOF {
		t.Errorf("empty stream err = %v, want io.EOF", err)
	}
}

func TestMJPEGReader(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 8+i, 8))
		if err := jpeg.Encode(&stream, img, nil); err != nil {
			t.Fatal(err)
		}
	}

	r := NewMJPEGReader(&stream)
	for i := 0; i < 3; i++ {
		frame, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.Bounds().Dx() != 8+i {
			t.Errorf("frame %d width = %d", i, frame.Bounds().Dx())
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{"streams":[{"width":640,"height":360,"r_frame_rate":"30000/1001","nb_frames":"120"}]}`)
	info, err := parseProbe(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 640 || info.Height != 360 || info.Frames != 120 {
		t.Errorf("info = %+v", info)
	}
	if info.FPS < 29.97 || info.FPS > 29.98 {
		t.Errorf("FPS = %f", info.FPS)
	}

	missing, err := parseProbe([]byte(`{"streams":[{"width":10,"height":10,"r_frame_rate":"25","nb_frames":"N/A"}]}`))
	if err != nil || missing.Frames != 0 || missing.FPS != 25 {
		t.Errorf("missing frame count = %+v, %v", missing, err)
	}

	if _, err := parseProbe([]byte(`{"streams":[]}`)); err == nil {
		t.Error("expected error without streams")
	}
}

func TestOpen_UnknownDecoder(t *testing.T) {
	if _, err := Open(context.Background(), "clip.mp4", "h264"); err == nil {
		t.Error("expected error for unknown decoder")
	}
}

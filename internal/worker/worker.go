package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils" // Using the SafeCommand wrapper
)

// Op codes understood by python/worker.py.
const (
	OpDetect  byte = 'D'
	OpPredict byte = 'P'
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxReply guards against a corrupted length header allocating gigabytes.
const maxReply = 64 * 1024 * 1024

// Mode selects which model the Python side loads.
type Mode string

const (
	ModeDetect   Mode = "detect"
	ModeClassify Mode = "classify"
)

// Config describes how to launch a worker process.
type Config struct {
	Python      string // interpreter, default "python3"
	Script      string // default "python/worker.py"
	Mode        Mode
	ModelPath   string
	ReadTimeout time.Duration // 0 disables the deadline
}

// ErrWorkerBroken is returned once a request failed at the transport level. A late
// reply may still be sitting in the pipe, so the process is stopped and never reused.
var ErrWorkerBroken = errors.New("python worker stopped after a failed exchange")

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Timeout  time.Duration

	broken    error
	closeOnce sync.Once
	closeErr  error
}

// NewPythonWorker starts the worker and waits for its ready message.
// A worker whose model fails to load reports it here, not on the first frame.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}
	if cfg.Mode != ModeDetect && cfg.Mode != ModeClassify {
		return nil, fmt.Errorf("unknown worker mode %q", cfg.Mode)
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommandContext(ctx, cfg.Python, "-u", cfg.Script, "--mode", string(cfg.Mode), "--model", cfg.ModelPath)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  cfg.ReadTimeout,
	}

	// Handshake: the worker loads its model, then answers with a status frame.
	ready, err := pw.readFrame()
	if err == nil {
		_, err = checkStatus(ready)
	}
	if err != nil {
		pw.fail(err)
		// The process has exited, so its stderr (usually a Python traceback) is complete.
		if logs := strings.TrimSpace(py.Stderr.String()); logs != "" {
			return nil, fmt.Errorf("worker %d did not become ready: %w\n%s", id, err, logs)
		}
		return nil, fmt.Errorf("worker %d did not become ready: %w", id, err)
	}
	return pw, nil
}

// Communicate sends one request frame and returns the reply body. Any write or read
// failure (deadline, short read, dead process) stops the worker: later calls return
// ErrWorkerBroken without touching the pipes.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if w.broken != nil {
		return nil, w.broken
	}
	resp, err := w.exchange(data)
	if err != nil {
		w.fail(err)
		return nil, w.broken
	}
	return resp, nil
}

func (w *PythonWorker) exchange(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readFrame()
}

// fail marks the worker broken, then kills and reaps the process.
func (w *PythonWorker) fail(cause error) {
	w.broken = fmt.Errorf("%w: worker %d: %w", ErrWorkerBroken, w.ID, cause)
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Close()
}

// Broken returns the failure that stopped the worker, or nil while it is usable.
func (w *PythonWorker) Broken() error {
	return w.broken
}

func (w *PythonWorker) readFrame() ([]byte, error) {
	// Only real pipes support deadlines; in-memory mocks block until data is there.
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.Timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.Timeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxReply {
		return nil, fmt.Errorf("worker reply of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// DetectFaces sends a luminance frame and returns the candidate boxes in enumeration order.
func (w *PythonWorker) DetectFaces(gray *image.Gray) ([]types.BoundingBox, error) {
	resp, err := w.Communicate(EncodeDetect(gray))
	if err != nil {
		return nil, err
	}
	return DecodeDetect(resp)
}

// Predict sends a tensor and returns the classifier confidence.
func (w *PythonWorker) Predict(t types.Tensor) (float64, error) {
	req, err := EncodePredict(t)
	if err != nil {
		return 0, err
	}
	resp, err := w.Communicate(req)
	if err != nil {
		return 0, err
	}
	return DecodePredict(resp)
}

// Close shuts the worker down and reaps the process. Safe to call more than once.
func (w *PythonWorker) Close() error {
	w.closeOnce.Do(func() {
		if w.Stdin != nil {
			w.Stdin.Close()
		}
		if w.DataPipe != nil {
			w.DataPipe.Close()
		}
		if w.Cmd != nil && w.Cmd.Process != nil {
			w.closeErr = w.Cmd.Wait()
		}
	})
	return w.closeErr
}

// EncodeDetect builds a detect request: [op][w][h][w*h gray bytes].
func EncodeDetect(gray *image.Gray) []byte {
	b := gray.Bounds()
	width, height := b.Dx(), b.Dy()
	buf := bytes.NewBuffer(make([]byte, 0, 9+width*height))
	buf.WriteByte(OpDetect)
	binary.Write(buf, binary.BigEndian, uint32(width))
	binary.Write(buf, binary.BigEndian, uint32(height))
	for y := 0; y < height; y++ {
		off := gray.PixOffset(b.Min.X, b.Min.Y+y)
		buf.Write(gray.Pix[off : off+width])
	}
	return buf.Bytes()
}

// DecodeDetect parses [status][n][n x (x,y,w,h) int32].
func DecodeDetect(resp []byte) ([]types.BoundingBox, error) {
	body, err := checkStatus(resp)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed detect reply: %w", err)
	}
	if int64(n)*16 > int64(r.Len()) {
		return nil, fmt.Errorf("malformed detect reply: %d boxes announced, %d bytes left", n, r.Len())
	}
	boxes := make([]types.BoundingBox, 0, n)
	for i := uint32(0); i < n; i++ {
		var raw [4]int32
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, fmt.Errorf("malformed detect reply: %w", err)
		}
		boxes = append(boxes, types.BoundingBox{X: int(raw[0]), Y: int(raw[1]), W: int(raw[2]), H: int(raw[3])})
	}
	return boxes, nil
}

// EncodePredict builds a predict request: [op][size][size*size*3 float32].
func EncodePredict(t types.Tensor) ([]byte, error) {
	if t.Size <= 0 || len(t.Data) != t.Size*t.Size*3 {
		return nil, fmt.Errorf("tensor of size %d has %d values", t.Size, len(t.Data))
	}
	buf := bytes.NewBuffer(make([]byte, 0, 5+4*len(t.Data)))
	buf.WriteByte(OpPredict)
	binary.Write(buf, binary.BigEndian, uint32(t.Size))
	if err := binary.Write(buf, binary.BigEndian, t.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePredict parses [status][float32 score].
func DecodePredict(resp []byte) (float64, error) {
	body, err := checkStatus(resp)
	if err != nil {
		return 0, err
	}
	if len(body) < 4 {
		return 0, errors.New("malformed predict reply: missing score")
	}
	bits := binary.BigEndian.Uint32(body[:4])
	return float64(math.Float32frombits(bits)), nil
}

// checkStatus strips the status byte, turning error replies into Go errors.
func checkStatus(resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, errors.New("empty worker reply")
	}
	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusError:
		r := bytes.NewReader(resp[1:])
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil || int(msgLen) > r.Len() {
			return nil, errors.New("python worker error: <unreadable message>")
		}
		msg := make([]byte, msgLen)
		r.Read(msg)
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown worker status byte %d", resp[0])
	}
}

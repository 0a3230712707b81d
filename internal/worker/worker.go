package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facerec/internal/types"
	"github.com/andresmejia3/facerec/internal/utils" // Using the SafeCommand wrapper
)

// Request opcodes understood by python/worker.py.
const (
	opDetect    byte = 'D' // boxes only
	opEmbed     byte = 'E' // encode the given boxes
	opDetectAll byte = 'A' // detect, then encode every face found
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxFrameSize guards against reading a garbage length header.
const maxFrameSize = 256 * 1024 * 1024

// ErrTimeout is returned when the worker does not answer within Config.ReadTimeout.
var ErrTimeout = errors.New("worker timed out")

// Config describes how to launch a worker process.
type Config struct {
	Python      string        // interpreter, default "python3"
	Script      string        // default "python/worker.py"
	Model       string        // face_recognition detector model: "hog" or "cnn"
	ReadTimeout time.Duration // per request, 0 disables
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Script == "" {
		c.Script = "python/worker.py"
	}
	if c.Model == "" {
		c.Model = "hog"
	}
	return c
}

// PythonWorker is one face_recognition process. Requests go to its stdin and replies
// come back on a dedicated pipe (FD 3) so stray prints cannot corrupt the stream.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration

	mu     sync.Mutex
	broken bool
}

// NewPythonWorker starts a worker process. ctx bounds the lifetime of the process.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	cfg = cfg.withDefaults()

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script, "--model", cfg.Model)

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
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import-time crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxFrameSize {
		return nil, fmt.Errorf("worker reply of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect returns the face boxes in img.
func (w *PythonWorker) Detect(ctx context.Context, img image.Image) ([]types.FaceBox, error) {
	faces, err := w.request(ctx, opDetect, img, nil)
	if err != nil {
		return nil, err
	}
	boxes := make([]types.FaceBox, len(faces))
	for i, f := range faces {
		boxes[i] = f.Loc
	}
	return boxes, nil
}

// Embed encodes the faces at boxes, or every detected face when boxes is nil.
func (w *PythonWorker) Embed(ctx context.Context, img image.Image, boxes []types.FaceBox) ([]types.FaceResult, error) {
	if boxes == nil {
		return w.request(ctx, opDetectAll, img, nil)
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	return w.request(ctx, opEmbed, img, boxes)
}

func (w *PythonWorker) request(ctx context.Context, op byte, img image.Image, boxes []types.FaceBox) ([]types.FaceResult, error) {
	pngData, err := utils.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	req := encodeRequest(op, boxes, pngData)

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := w.Communicate(req)
		done <- reply{body, err}
	}()

	var timeout <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			w.markBroken()
			return nil, fmt.Errorf("worker %d: %w", w.ID, r.err)
		}
		return decodeResponse(r.body)
	case <-ctx.Done():
		w.kill()
		<-done
		return nil, ctx.Err()
	case <-timeout:
		w.kill()
		<-done
		return nil, fmt.Errorf("worker %d: %w after %s", w.ID, ErrTimeout, w.timeout)
	}
}

// Broken reports whether the worker lost protocol sync and must be replaced.
func (w *PythonWorker) Broken() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken
}

func (w *PythonWorker) markBroken() {
	w.mu.Lock()
	w.broken = true
	w.mu.Unlock()
}

// kill abandons an in-flight request; the process cannot be trusted afterwards.
func (w *PythonWorker) kill() {
	w.markBroken()
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.DataPipe.Close()
}

// Close shuts the worker down and waits for the process to exit.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// encodeRequest builds [op][nBoxes][boxes as top,right,bottom,left int32][png].
func encodeRequest(op byte, boxes []types.FaceBox, pngData []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 5+16*len(boxes)+len(pngData)))
	buf.WriteByte(op)
	binary.Write(buf, binary.BigEndian, uint32(len(boxes)))
	for _, b := range boxes {
		binary.Write(buf, binary.BigEndian, [4]int32{int32(b.Top), int32(b.Right), int32(b.Bottom), int32(b.Left)})
	}
	buf.Write(pngData)
	return buf.Bytes()
}

// decodeResponse parses [status] followed by either the faces or an error message.
// OK:    [nFaces] then per face [box 4×int32][dim uint32][dim×float32]
// Error: [msgLen][msg]
func decodeResponse(body []byte) ([]types.FaceResult, error) {
	r := bytes.NewReader(body)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker reply: %w", err)
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		if int(msgLen) > r.Len() {
			return nil, fmt.Errorf("malformed worker error: message length %d exceeds reply", msgLen)
		}
		msg := make([]byte, msgLen)
		io.ReadFull(r, msg)
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed worker reply: %w", err)
	}

	faces := make([]types.FaceResult, 0, min(int(n), 64))
	for i := uint32(0); i < n; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("malformed face %d box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("malformed face %d header: %w", i, err)
		}
		if int(dim)*4 > r.Len() {
			return nil, fmt.Errorf("malformed face %d: %d dimensions exceed reply", i, dim)
		}

		raw := make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("malformed face %d vector: %w", i, err)
		}
		var vec types.Embedding
		if dim > 0 {
			vec = make(types.Embedding, dim)
			for j, v := range raw {
				vec[j] = float64(v)
			}
		}

		faces = append(faces, types.FaceResult{
			Loc: types.FaceBox{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Vec: vec,
		})
	}
	return faces, nil
}

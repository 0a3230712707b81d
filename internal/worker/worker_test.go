package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"io"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/facerec/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

type fakeFace struct {
	box [4]int32
	vec []float32
}

// okReply builds a framed status-0 reply as python/worker.py would send it.
func okReply(faces ...fakeFace) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                        // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(faces))) // NumFaces
	for _, f := range faces {
		binary.Write(payload, binary.BigEndian, f.box)
		binary.Write(payload, binary.BigEndian, uint32(len(f.vec)))
		binary.Write(payload, binary.BigEndian, f.vec)
	}
	return frame(payload.Bytes())
}

func errReply(msg string) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	return frame(payload.Bytes())
}

func frame(body []byte) []byte {
	out := new(bytes.Buffer)
	binary.Write(out, binary.BigEndian, uint32(len(body)))
	out.Write(body)
	return out.Bytes()
}

func mockWorker(id int, replies ...[]byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	for _, r := range replies {
		dataPipeMock.Write(r)
	}
	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: id, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock
}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}

// sentRequest strips the length header from what the worker wrote to stdin.
func sentRequest(t *testing.T, stdin *MockCloser) []byte {
	t.Helper()
	data := stdin.Bytes()
	require.GreaterOrEqual(t, len(data), 4)
	n := binary.BigEndian.Uint32(data[:4])
	require.Equal(t, int(n), len(data)-4, "length header must match the body")
	return data[4:]
}

func TestCommunicate(t *testing.T) {
	w, stdin := mockWorker(1, frame([]byte{0xCA, 0xFE}))

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	resp, err := w.Communicate(inputFrame)
	require.NoError(t, err)

	// Expect 4 bytes header + 4 bytes data
	assert.Len(t, stdin.Bytes(), 4+len(inputFrame))
	assert.Equal(t, []byte{0xCA, 0xFE}, resp)
}

func TestEmbed(t *testing.T) {
	vec := make([]float32, 128)
	vec[0] = 0.5 // Set one value to verify
	w, stdin := mockWorker(1, okReply(fakeFace{box: [4]int32{10, 20, 30, 5}, vec: vec}))

	boxes := []types.FaceBox{{Top: 10, Right: 20, Bottom: 30, Left: 5}}
	faces, err := w.Embed(context.Background(), testImage(), boxes)
	require.NoError(t, err)

	// Verify Go read the correct data FROM Python
	require.Len(t, faces, 1)
	assert.Equal(t, boxes[0], faces[0].Loc)
	require.Len(t, faces[0].Vec, 128)
	// Use epsilon for float comparison
	assert.LessOrEqual(t, math.Abs(faces[0].Vec[0]-0.5), 1e-9)

	// Verify Go sent the correct data TO Python
	req := sentRequest(t, stdin)
	assert.Equal(t, opEmbed, req[0])
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(req[1:5]))
	var sentBox [4]int32
	require.NoError(t, binary.Read(bytes.NewReader(req[5:21]), binary.BigEndian, &sentBox))
	assert.Equal(t, [4]int32{10, 20, 30, 5}, sentBox)
	assert.Equal(t, []byte("\x89PNG"), req[21:25], "image travels as PNG")
}

func TestEmbed_NilBoxesDetectsAll(t *testing.T) {
	w, stdin := mockWorker(1, okReply(
		fakeFace{box: [4]int32{1, 2, 3, 4}, vec: []float32{1, 2}},
		fakeFace{box: [4]int32{5, 6, 7, 8}, vec: []float32{3, 4}},
	))

	faces, err := w.Embed(context.Background(), testImage(), nil)
	require.NoError(t, err)
	require.Len(t, faces, 2)
	assert.Equal(t, types.Embedding{3, 4}, faces[1].Vec)

	req := sentRequest(t, stdin)
	assert.Equal(t, opDetectAll, req[0])
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(req[1:5]))
}

func TestEmbed_EmptyBoxesSkipsWorker(t *testing.T) {
	w, stdin := mockWorker(1)

	faces, err := w.Embed(context.Background(), testImage(), []types.FaceBox{})
	require.NoError(t, err)
	assert.Empty(t, faces)
	assert.Zero(t, stdin.Len())
}

func TestDetect(t *testing.T) {
	w, stdin := mockWorker(1, okReply(
		fakeFace{box: [4]int32{40, 160, 120, 80}},
		fakeFace{box: [4]int32{1, 3, 3, 1}},
	))

	boxes, err := w.Detect(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, []types.FaceBox{
		{Top: 40, Right: 160, Bottom: 120, Left: 80},
		{Top: 1, Right: 3, Bottom: 3, Left: 1},
	}, boxes)
	assert.Equal(t, opDetect, sentRequest(t, stdin)[0])
	assert.False(t, w.Broken())
}

func TestDetect_Error(t *testing.T) {
	errMsg := "Python Exception: Import Error"
	w, _ := mockWorker(1, errReply(errMsg))

	_, err := w.Detect(context.Background(), testImage())
	require.Error(t, err)
	assert.Equal(t, "python worker error: "+errMsg, err.Error())

	// A reported error keeps the stream in sync
	assert.False(t, w.Broken())
}

func TestDetect_CrashMarksBroken(t *testing.T) {
	w, _ := mockWorker(1) // nothing to read: the process died

	_, err := w.Detect(context.Background(), testImage())
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, w.Broken())
}

func TestDetect_ContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	w := &PythonWorker{ID: 1, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: pr}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := w.Detect(ctx, testImage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, w.Broken())
}

func TestDetect_Timeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	w := &PythonWorker{ID: 7, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: pr, timeout: 20 * time.Millisecond}

	_, err := w.Detect(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, w.Broken())
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"unknown status", []byte{9}},
		{"missing count", []byte{0, 0}},
		{"truncated box", []byte{0, 0, 0, 0, 1, 0, 0}},
		{"vector longer than reply", append([]byte{0, 0, 0, 0, 1}, append(make([]byte, 16), 0, 0, 0, 50)...)},
		{"error message overflow", []byte{1, 0, 0, 0, 99, 'x'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeResponse(tt.body)
			assert.Error(t, err)
		})
	}
}

func TestDecodeResponse_NoFaces(t *testing.T) {
	faces, err := decodeResponse([]byte{0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestDecodeResponse_ZeroDimension(t *testing.T) {
	body := okReply(fakeFace{box: [4]int32{1, 2, 3, 4}})[4:]
	faces, err := decodeResponse(body)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Nil(t, faces[0].Vec)
}

func TestEncodeRequest(t *testing.T) {
	req := encodeRequest(opEmbed, []types.FaceBox{{Top: -1, Right: 2, Bottom: 3, Left: 4}}, []byte("img"))

	assert.Len(t, req, 1+4+16+3)
	assert.Equal(t, opEmbed, req[0])
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(req[1:5]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.BigEndian.Uint32(req[5:9]), "negative coordinates are two's complement")
	assert.Equal(t, []byte("img"), req[21:])
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "python3", cfg.Python)
	assert.Equal(t, "python/worker.py", cfg.Script)
	assert.Equal(t, "hog", cfg.Model)

	cfg = Config{Python: "/opt/py", Model: "cnn"}.withDefaults()
	assert.Equal(t, "/opt/py", cfg.Python)
	assert.Equal(t, "cnn", cfg.Model)
}

var errSpawn = errors.New("no python")

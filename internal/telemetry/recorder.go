package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrRecorderClosed is returned by Publish after Close.
var ErrRecorderClosed = errors.New("recorder closed")

// Recorder appends msgpack-encoded envelopes to a zstd-compressed file.
type Recorder struct {
	path string

	mu     sync.Mutex
	f      *os.File
	zw     *zstd.Encoder
	enc    *msgpack.Encoder
	closed bool
}

// NewRecorder creates (or truncates) the recording at path.
func NewRecorder(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Recorder{path: path, f: f, zw: zw, enc: msgpack.NewEncoder(zw)}, nil
}

// Path returns the recording file path.
func (r *Recorder) Path() string { return r.path }

// Publish appends env to the recording.
func (r *Recorder) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if err := r.enc.Encode(&env); err != nil {
		return fmt.Errorf("record %s envelope: %w", env.Type, err)
	}
	return nil
}

// Flush pushes buffered frames to the file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.zw.Flush()
}

// Close finishes the zstd stream and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.zw.Close(), r.f.Close())
}

// ReadRecording decodes every envelope in the recording at path, in order,
// and passes it to fn. It stops at the first error fn returns.
func ReadRecording(path string, fn func(Envelope) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return err
	}
	defer zr.Close()

	dec := msgpack.NewDecoder(zr)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode recording %s: %w", path, err)
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}

package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/norasector/turbine-common/types"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(ctx context.Context, t *testing.T, dev *FileDevice) (chan *types.SegmentComplex64, chan error) {
	t.Helper()
	out := make(chan *types.SegmentComplex64, 8)
	errc := make(chan error, 1)
	go func() { errc <- dev.Start(ctx, 0, 48000, out) }()
	t.Cleanup(func() { dev.Stop() })
	return out, errc
}

func TestCF32Playback(t *testing.T) {
	samples := []complex64{complex(0.5, -0.5), complex(1, 0), complex(-0.25, 0.75)}
	data := append(EncodeCF32(samples), 1, 2, 3, 4)

	dev, err := NewFileDevice(writeTemp(t, data), FormatCF32, 16, 48000, time.Millisecond, false)
	if err != nil {
		t.Fatal(err)
	}
	out, errc := run(context.Background(), t, dev)

	select {
	case err := <-errc:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Start() = %v, want EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
	}

	var got []complex64
	segments := 0
	for len(out) > 0 {
		got = append(got, (<-out).Data...)
		segments++
	}
	if segments != 2 {
		t.Errorf("got %d segments, want 2", segments)
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], samples[i])
		}
	}
}

func TestCS8Playback(t *testing.T) {
	dev, err := NewFileDevice(writeTemp(t, []byte{0, 0, 127, 127, 128, 128, 10, 20}), FormatCS8, 8, 48000, time.Millisecond, false)
	if err != nil {
		t.Fatal(err)
	}
	out, errc := run(context.Background(), t, dev)

	seg := <-out
	if len(seg.Data) != 4 {
		t.Errorf("got %d samples, want 4", len(seg.Data))
	}
	if err := <-errc; !errors.Is(err, io.EOF) {
		t.Errorf("Start() = %v, want EOF", err)
	}
}

func TestLoopRestarts(t *testing.T) {
	dev, err := NewFileDevice(writeTemp(t, EncodeCF32([]complex64{complex(1, 2)})), FormatCF32, 8, 48000, time.Millisecond, true)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := run(ctx, t, dev)

	for i := 0; i < 3; i++ {
		seg := <-out
		if len(seg.Data) != 1 || seg.Data[0] != complex(1, 2) {
			t.Fatalf("segment %d = %v", i, seg.Data)
		}
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() = %v, want canceled", err)
	}
}

func TestNewFileDeviceErrors(t *testing.T) {
	path := writeTemp(t, nil)
	if _, err := NewFileDevice(path, "wav", 16, 48000, 0, false); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewFileDevice(path, FormatCF32, 4, 48000, 0, false); err == nil {
		t.Error("expected error for short read size")
	}
	if _, err := NewFileDevice(filepath.Join(t.TempDir(), "missing"), FormatCS8, 16, 48000, 0, false); err == nil {
		t.Error("expected error for missing file")
	}
}

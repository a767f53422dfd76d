// Package file plays back recorded baseband as a device.
package file

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/norasector/turbine-common/types"
)

// Format is the sample encoding of a recording.
type Format string

const (
	// FormatCS8 is interleaved 8 bit I/Q as captured by hackrf_transfer.
	FormatCS8 Format = "cs8"
	// FormatCF32 is interleaved little endian float32 I/Q.
	FormatCF32 Format = "cf32"
)

func (f Format) bytesPerSample() int {
	if f == FormatCF32 {
		return 8
	}
	return 2
}

type FileDevice struct {
	readFile    *os.File
	format      Format
	readSize    int
	timeBetween time.Duration
	sampleRate  int
	loop        bool
}

// NewFileDevice reads readSize bytes every timeBetween. With loop set the
// recording restarts at EOF; otherwise Start returns io.EOF.
func NewFileDevice(file string, format Format, readSize int, sampleRate int, timeBetween time.Duration, loop bool) (*FileDevice, error) {
	if format == "" {
		format = FormatCS8
	}
	if format != FormatCS8 && format != FormatCF32 {
		return nil, fmt.Errorf("unknown sample format %q", format)
	}
	readSize -= readSize % format.bytesPerSample()
	if readSize <= 0 {
		return nil, fmt.Errorf("read size must hold at least one %s sample", format)
	}
	if timeBetween <= 0 {
		// Real time for the given read size.
		timeBetween = time.Duration(float64(time.Second) * float64(readSize/format.bytesPerSample()) / float64(sampleRate))
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}

	return &FileDevice{
		readFile:    f,
		format:      format,
		readSize:    readSize,
		timeBetween: timeBetween,
		sampleRate:  sampleRate,
		loop:        loop,
	}, nil
}

func (f *FileDevice) read(buf []byte) (int, error) {
	n, err := io.ReadFull(f.readFile, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if errors.Is(err, io.EOF) && f.loop {
		if _, err := f.readFile.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		return io.ReadFull(f.readFile, buf)
	}
	return n, err
}

func (f *FileDevice) Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error {
	tick := time.NewTicker(f.timeBetween)
	defer tick.Stop()

	buf := make([]byte, f.readSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			n, err := f.read(buf)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return err
			}
			n -= n % f.format.bytesPerSample()
			if n == 0 {
				continue
			}

			var complexSegment *types.SegmentComplex64
			switch f.format {
			case FormatCF32:
				complexSegment = &types.SegmentComplex64{Data: DecodeCF32(buf[:n])}
			default:
				seg := types.SegmentCS8Raw{
					SampleRate: sampleRate,
					Data:       make([]byte, n),
					Frequency:  centerFreq,
				}
				copy(seg.Data, buf[:n])
				complexSegment = seg.ToComplex64()
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case complexSamples <- complexSegment:
			}
		}
	}
}

// DecodeCF32 converts interleaved little endian float32 pairs to samples.
func DecodeCF32(b []byte) []complex64 {
	ret := make([]complex64, len(b)/8)
	for i := range ret {
		re := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8+4:]))
		ret[i] = complex(re, im)
	}
	return ret
}

// EncodeCF32 is the inverse of DecodeCF32.
func EncodeCF32(samples []complex64) []byte {
	ret := make([]byte, len(samples)*8)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(ret[i*8:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(ret[i*8+4:], math.Float32bits(imag(s)))
	}
	return ret
}

func (f *FileDevice) Stop() error {
	return f.readFile.Close()
}

func (f *FileDevice) MaxSampleRate() int {
	return 20e6
}

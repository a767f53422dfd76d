// Package wisdom prepares and caches FFT plans so that channels and plotters
// do not pay for twiddle factor setup while samples are flowing.
//
// Prepare plans every power of two size from MinSize to MaxSize and records
// the planned sizes in a wisdom file. Later runs read the file and plan only
// the recorded sizes.
package wisdom

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/dsp/fourier"
	"gopkg.in/yaml.v2"
)

const (
	FileName = "wdspWisdom00"
	MinSize  = 64
	MaxSize  = 262144

	fileVersion = 1
)

type file struct {
	Version int    `yaml:"version"`
	Created string `yaml:"created"`
	Sizes   []int  `yaml:"sizes,flow"`
}

// Cache hands out FFT plans per size. Plans are not safe for concurrent use,
// so each caller takes one and puts it back. Returned plans stay on a per
// size free list for the life of the cache.
type Cache struct {
	mu       sync.Mutex
	cmplx    map[int][]*fourier.CmplxFFT
	real     map[int][]*fourier.FFT
	prepared map[int]struct{}
}

func NewCache() *Cache {
	return &Cache{
		cmplx:    make(map[int][]*fourier.CmplxFFT),
		real:     make(map[int][]*fourier.FFT),
		prepared: make(map[int]struct{}),
	}
}

var defaultCache = NewCache()

// Default returns the process wide cache.
func Default() *Cache {
	return defaultCache
}

// DefaultSizes lists every power of two from MinSize to MaxSize.
func DefaultSizes() []int {
	var ret []int
	for n := MinSize; n <= MaxSize; n *= 2 {
		ret = append(ret, n)
	}
	return ret
}

// RoundSize returns the smallest default size holding n samples, limited to
// MinSize..MaxSize.
func RoundSize(n int) int {
	size := MinSize
	for size < n && size < MaxSize {
		size *= 2
	}
	return size
}

// Cmplx returns a complex FFT plan of length n, building one when none is free.
func (c *Cache) Cmplx(n int) *fourier.CmplxFFT {
	c.mu.Lock()
	if free := c.cmplx[n]; len(free) > 0 {
		p := free[len(free)-1]
		c.cmplx[n] = free[:len(free)-1]
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()
	return fourier.NewCmplxFFT(n)
}

// PutCmplx returns a plan taken with Cmplx.
func (c *Cache) PutCmplx(p *fourier.CmplxFFT) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.cmplx[p.Len()] = append(c.cmplx[p.Len()], p)
	c.mu.Unlock()
}

// Real returns a real FFT plan of length n, building one when none is free.
func (c *Cache) Real(n int) *fourier.FFT {
	c.mu.Lock()
	if free := c.real[n]; len(free) > 0 {
		p := free[len(free)-1]
		c.real[n] = free[:len(free)-1]
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()
	return fourier.NewFFT(n)
}

func (c *Cache) PutReal(p *fourier.FFT) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.real[p.Len()] = append(c.real[p.Len()], p)
	c.mu.Unlock()
}

// Plan builds plans for size n and parks them on the free lists.
func (c *Cache) Plan(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid fft size %d", n)
	}
	c.PutCmplx(c.Cmplx(n))
	c.PutReal(c.Real(n))
	if n&(n-1) == 0 {
		fft.EnsureRadix2Factors(n)
	}

	c.mu.Lock()
	c.prepared[n] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Sizes lists the sizes planned so far, ascending.
func (c *Cache) Sizes() []int {
	c.mu.Lock()
	ret := make([]int, 0, len(c.prepared))
	for n := range c.prepared {
		ret = append(ret, n)
	}
	c.mu.Unlock()
	sort.Ints(ret)
	return ret
}

// Prepare loads dir/FileName and plans the sizes it records. When the file is
// missing or unreadable every default size is planned and the file rewritten.
func (c *Cache) Prepare(dir string, logger zerolog.Logger) error {
	path := filepath.Join(dir, FileName)

	sizes, err := readFile(path)
	switch {
	case err == nil:
		logger.Info().Str("path", path).Int("sizes", len(sizes)).Msg("loading fft wisdom")
		for _, n := range sizes {
			if err := c.Plan(n); err != nil {
				return fmt.Errorf("wisdom %s: %w", path, err)
			}
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		logger.Info().Str("path", path).Msg("no fft wisdom found, optimizing")
	default:
		logger.Warn().Err(err).Str("path", path).Msg("discarding unreadable fft wisdom")
	}

	sizes = DefaultSizes()
	for _, n := range sizes {
		start := time.Now()
		if err := c.Plan(n); err != nil {
			return err
		}
		logger.Debug().Int("size", n).Dur("took", time.Since(start)).Msg("optimized fft size")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating wisdom directory: %w", err)
	}
	if err := writeFile(path, sizes); err != nil {
		return fmt.Errorf("writing wisdom %s: %w", path, err)
	}
	logger.Info().Str("path", path).Int("max_size", sizes[len(sizes)-1]).Msg("fft wisdom written")
	return nil
}

// Prepare runs Cache.Prepare on the default cache with the global logger.
func Prepare(dir string) error {
	return defaultCache.Prepare(dir, log.Logger)
}

func readFile(path string) ([]int, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(contents, &f); err != nil {
		return nil, err
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("unsupported wisdom version %d", f.Version)
	}
	if len(f.Sizes) == 0 {
		return nil, errors.New("wisdom lists no sizes")
	}
	for _, n := range f.Sizes {
		if n <= 0 {
			return nil, fmt.Errorf("invalid wisdom size %d", n)
		}
	}
	return f.Sizes, nil
}

func writeFile(path string, sizes []int) error {
	contents, err := yaml.Marshal(file{
		Version: fileVersion,
		Created: time.Now().UTC().Format(time.RFC3339),
		Sizes:   sizes,
	})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, contents, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

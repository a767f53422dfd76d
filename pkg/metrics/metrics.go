// Package metrics connects channels and the daemon to InfluxDB.
package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"
)

// NopWriteAPI is a WriteAPI that drops every point.
type NopWriteAPI struct{}

func (NopWriteAPI) WriteRecord(line string) {}
func (NopWriteAPI) WritePoint(point *write.Point) {}
func (NopWriteAPI) Flush() {}
func (NopWriteAPI) Close() {}

// Errors returns nil; a nil channel never delivers.
func (NopWriteAPI) Errors() <-chan error { return nil }

var _ api.WriteAPI = NopWriteAPI{}

// Recorder is a WriteAPI that keeps points in memory, for tests.
type Recorder struct {
	points chan *write.Point
}

func NewRecorder(size int) *Recorder {
	return &Recorder{points: make(chan *write.Point, size)}
}

func (r *Recorder) WriteRecord(line string) {}

// WritePoint keeps p if there is room and drops it otherwise.
func (r *Recorder) WritePoint(p *write.Point) {
	select {
	case r.points <- p:
	default:
	}
}

func (r *Recorder) Flush() {}
func (r *Recorder) Close() {}
func (r *Recorder) Errors() <-chan error { return nil }

// Next waits up to timeout for a point named name.
func (r *Recorder) Next(name string, timeout time.Duration) *write.Point {
	deadline := time.After(timeout)
	for {
		select {
		case p := <-r.points:
			if p.Name() == name {
				return p
			}
		case <-deadline:
			return nil
		}
	}
}

// Config is the InfluxDB section of the daemon config.
type Config struct {
	URL          string `yaml:"url"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
	// Token is usually supplied through INFLUXDB_TOKEN instead.
	Token string `yaml:"token"`
}

// Connect returns a WriteAPI for cfg and a function closing the client. An
// empty URL yields NopWriteAPI.
func Connect(cfg Config) (api.WriteAPI, func()) {
	if cfg.URL == "" {
		return NopWriteAPI{}, func() {}
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(500).SetFlushInterval(uint(time.Second/time.Millisecond)))
	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)
	return writeAPI, func() {
		writeAPI.Flush()
		client.Close()
	}
}

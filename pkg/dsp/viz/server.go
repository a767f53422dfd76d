package viz

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"
)

type ImageContainer struct {
	name string
	data []byte
}

func (i *ImageContainer) Name() string { return i.name }
func (i *ImageContainer) Data() []byte { return i.data }

type Producer interface {
	Name() string
	GetImage() *ImageContainer
	AddPlotOption(opt PlotOptions)
}

// Server renders registered producers, grouped in buckets, while someone is
// looking at them.
type Server struct {
	images          map[string]map[string]*ImageContainer
	mu              sync.RWMutex
	srv             *http.Server
	producerBuckets map[string]map[string]Producer
	updateInterval  time.Duration
	lastViewed      map[string]time.Time
}

func NewServer(port int, updateInterval time.Duration) *Server {
	if updateInterval <= 0 {
		updateInterval = time.Second
	}
	s := &Server{
		images:          make(map[string]map[string]*ImageContainer),
		producerBuckets: make(map[string]map[string]Producer),
		lastViewed:      make(map[string]time.Time),
		srv:             &http.Server{Addr: fmt.Sprintf(":%d", port)},
		updateInterval:  updateInterval,
	}
	s.srv.Handler = s.Handler()
	return s
}

func (s *Server) Register(key string, p Producer) {
	s.mu.Lock()
	bucket, ok := s.producerBuckets[key]
	if !ok {
		bucket = make(map[string]Producer)
		s.producerBuckets[key] = bucket
	}
	bucket[p.Name()] = p
	s.mu.Unlock()
}

// Unregister drops a bucket and its rendered images.
func (s *Server) Unregister(key string) {
	s.mu.Lock()
	delete(s.producerBuckets, key)
	delete(s.images, key)
	delete(s.lastViewed, key)
	s.mu.Unlock()
}

// Buckets lists bucket names, sorted.
func (s *Server) Buckets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.producerBuckets))
	for key := range s.producerBuckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// A bucket is rendered while it has been viewed within viewWindow.
const viewWindow = time.Second

// RenderViewed renders every producer of recently viewed buckets.
func (s *Server) RenderViewed() {
	type job struct {
		bucket string
		p      Producer
	}

	s.mu.RLock()
	var jobs []job
	for name, bucket := range s.producerBuckets {
		if time.Since(s.lastViewed[name]) >= viewWindow {
			continue
		}
		for _, p := range bucket {
			jobs = append(jobs, job{name, p})
		}
	}
	s.mu.RUnlock()

	eg := errgroup.Group{}
	for _, j := range jobs {
		j := j
		eg.Go(func() error {
			if img := j.p.GetImage(); img != nil {
				s.storeImage(j.bucket, img)
			}
			return nil
		})
	}
	eg.Wait()
}

func (s *Server) storeImage(bucket string, img *ImageContainer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The bucket may have been unregistered while rendering.
	if _, ok := s.producerBuckets[bucket]; !ok {
		return
	}
	images, ok := s.images[bucket]
	if !ok {
		images = make(map[string]*ImageContainer)
		s.images[bucket] = images
	}
	images[img.name] = img
}

func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		tick := time.NewTicker(s.updateInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				s.RenderViewed()
			}
		}
	})

	eg.Go(func() error {
		<-ctx.Done()
		return s.srv.Shutdown(context.Background())
	})

	eg.Go(func() error {
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) markViewed(bucket string) {
	s.mu.Lock()
	s.lastViewed[bucket] = time.Now()
	s.mu.Unlock()
}

// producerNames lists a bucket's producers, sorted.
func (s *Server) producerNames(bucket string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	producers, ok := s.producerBuckets[bucket]
	names := make([]string, 0, len(producers))
	for name := range producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, ok
}

var viewTemplate = template.Must(template.New("view").Parse(`<html>
<head><title>WDSP Viz</title>
<script type="text/javascript">
var refresh = true;
window.onload = function() {
	document.querySelectorAll("img.graph").forEach(function(img) {
		setInterval(function() {
			if (refresh) {
				img.src = img.src.split("?")[0] + "?" + Date.now();
			}
		}, {{.Interval}});
	});
};
</script>
</head>
<body style="background-color: black">
<select onchange="window.location.href = '/view/' + encodeURIComponent(this.value)">
{{range .Buckets}}<option value="{{.}}"{{if eq . $.Bucket}} selected{{end}}>{{.}}</option>
{{end}}</select>
<button onclick="refresh = !refresh">Refresh?</button>
<div style="display: flex; flex-direction: row; flex-wrap: wrap">
{{range .Images}}<div><img class="graph" src="{{.}}" /></div>
{{end}}</div>
</body>
</html>
`))

type viewPage struct {
	Bucket   string
	Buckets  []string
	Images   []string
	Interval int64
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/", s.redirectFirst)
	router.GET("/view/:bucket", s.view)
	router.GET("/img/:bucket/:img", s.image)
	return router
}

func (s *Server) redirectFirst(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	buckets := s.Buckets()
	if len(buckets) == 0 {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/view/"+url.PathEscape(buckets[0]), http.StatusFound)
}

func (s *Server) view(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	bucket := params.ByName("bucket")
	names, ok := s.producerNames(bucket)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.markViewed(bucket)

	page := viewPage{
		Bucket:   bucket,
		Buckets:  s.Buckets(),
		Interval: s.updateInterval.Milliseconds(),
	}
	now := time.Now().UnixMicro()
	for _, name := range names {
		page.Images = append(page.Images,
			fmt.Sprintf("/img/%s/%s?%d", url.PathEscape(bucket), url.PathEscape(name), now))
	}

	w.Header().Set("Content-Type", "text/html")
	viewTemplate.Execute(w, page)
}

func (s *Server) image(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	bucket := params.ByName("bucket")
	s.markViewed(bucket)

	s.mu.RLock()
	img, ok := s.images[bucket][params.ByName("img")]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(img.data)
}

package provider

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Provider = (*MetricsProvider)(nil)

// Operation results recorded in the "result" label.
const (
	resultOK       = "ok"
	resultMissing  = "missing"
	resultInvalid  = "invalid"
	resultCanceled = "canceled"
	resultError    = "error"
)

// MetricsProvider decorates a Provider with Prometheus instrumentation.
// It records one counter sample and one latency sample per call, plus the
// bytes moved through SaveFile and GetFileStream.
type MetricsProvider struct {
	next Provider

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// WithMetrics wraps p and registers its collectors with reg. Wrapping
// several providers against the same registry shares the collectors.
func WithMetrics(p Provider, reg prometheus.Registerer, namespace string) (*MetricsProvider, error) {
	operations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Total number of storage operations",
	}, []string{"operation", "result"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "operation_duration_seconds",
		Help:      "Duration of storage operations in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}
	bytes, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "bytes_total",
		Help:      "Total number of bytes read from or written to storage",
	}, []string{"direction"}))
	if err != nil {
		return nil, err
	}

	return &MetricsProvider{
		next:       p,
		operations: operations,
		duration:   duration,
		bytes:      bytes,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Unwrap returns the decorated provider.
func (m *MetricsProvider) Unwrap() Provider {
	return m.next
}

func (m *MetricsProvider) observe(op string, start time.Time, found bool, err error) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.operations.WithLabelValues(op, resultOf(found, err)).Inc()
}

func resultOf(found bool, err error) string {
	switch {
	case err == nil && found:
		return resultOK
	case err == nil, IsNotFound(err):
		return resultMissing
	case errors.Is(err, ErrInvalidArgument):
		return resultInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resultCanceled
	default:
		return resultError
	}
}

func (m *MetricsProvider) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := m.next.GetFileStream(ctx, path)
	m.observe("get_file_stream", start, true, err)
	if err != nil {
		return nil, err
	}
	return &countingReadCloser{ReadCloser: rc, counter: m.bytes.WithLabelValues("read")}, nil
}

func (m *MetricsProvider) GetFileInfo(ctx context.Context, path string) (*FileSpec, error) {
	start := time.Now()
	spec, err := m.next.GetFileInfo(ctx, path)
	m.observe("get_file_info", start, spec != nil, err)
	return spec, err
}

func (m *MetricsProvider) Exists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	ok, err := m.next.Exists(ctx, path)
	m.observe("exists", start, ok, err)
	return ok, err
}

func (m *MetricsProvider) SaveFile(ctx context.Context, path string, r io.Reader) (bool, error) {
	start := time.Now()
	cr := &countingReader{r: r}
	ok, err := m.next.SaveFile(ctx, path, cr)
	m.observe("save_file", start, ok, err)
	m.bytes.WithLabelValues("write").Add(float64(cr.n.Load()))
	return ok, err
}

func (m *MetricsProvider) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	start := time.Now()
	ok, err := m.next.RenameFile(ctx, path, newPath)
	m.observe("rename_file", start, ok, err)
	return ok, err
}

func (m *MetricsProvider) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	start := time.Now()
	ok, err := m.next.CopyFile(ctx, path, targetPath)
	m.observe("copy_file", start, ok, err)
	return ok, err
}

func (m *MetricsProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	ok, err := m.next.DeleteFile(ctx, path)
	m.observe("delete_file", start, ok, err)
	return ok, err
}

func (m *MetricsProvider) DeleteFiles(ctx context.Context, pattern Pattern) error {
	start := time.Now()
	err := m.next.DeleteFiles(ctx, pattern)
	m.observe("delete_files", start, true, err)
	return err
}

func (m *MetricsProvider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	start := time.Now()
	files, err := m.next.GetFileList(ctx, opts)
	m.observe("get_file_list", start, true, err)
	return files, err
}

func (m *MetricsProvider) Close() error {
	return m.next.Close()
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

type countingReadCloser struct {
	io.ReadCloser
	counter prometheus.Counter
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.counter.Add(float64(n))
	}
	return n, err
}

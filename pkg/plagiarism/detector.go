package plagiarism

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	checkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Subsystem: "plagiarism",
		Name:      "check_duration_seconds",
		Help:      "Duration of plagiarism detector calls",
	}, []string{"outcome"})

	flagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "plagiarism",
		Name:      "flags_total",
		Help:      "Number of submissions flagged for plagiarism",
	})
)

// CheckRequest identifies the submission to screen.
type CheckRequest struct {
	SubmissionID uint   `json:"submission_id"`
	StudentID    uint   `json:"student_id"`
	CourseID     uint   `json:"course_id"`
	AssignmentID uint   `json:"assignment_id"`
	Content      string `json:"content"`
}

// Report is the detector's verdict with supporting evidence.
type Report struct {
	Flagged              bool     `json:"flagged"`
	MatchPercentage      int      `json:"match_percentage"`
	OriginalSubmissionID string   `json:"original_submission_id,omitempty"`
	Evidence             []string `json:"evidence,omitempty"`
}

// Detector screens submission content against prior work. Checks are
// idempotent per submission.
type Detector interface {
	Check(ctx context.Context, req CheckRequest) (Report, error)
}

// Config holds the HTTP detector settings.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

// HTTPDetector calls the external similarity service over HTTP and caches
// reports per submission id in Redis so re-checks during re-grades do not
// re-run the similarity analysis.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
	cache   *redis.Client
	ttl     time.Duration
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewHTTPDetector constructs the detector client. The Redis client is
// optional; without it every check hits the remote service.
func NewHTTPDetector(cfg Config, cache *redis.Client) (*HTTPDetector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("plagiarism detector base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &HTTPDetector{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		ttl:     cfg.CacheTTL,
		tracer:  otel.Tracer("github.com/scrollu/portal-api/pkg/plagiarism"),
		logger:  logger,
	}, nil
}

// Check returns the cached report when present, otherwise queries the
// detector service and caches the verdict.
func (d *HTTPDetector) Check(parent context.Context, req CheckRequest) (Report, error) {
	ctx, span := d.tracer.Start(parent, "plagiarism.check", trace.WithAttributes(
		attribute.Int64("submission_id", int64(req.SubmissionID)),
	))
	defer span.End()

	cacheKey := fmt.Sprintf("plagiarism:report:%d", req.SubmissionID)
	if report, ok := d.cachedReport(ctx, cacheKey); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return report, nil
	}

	start := time.Now()
	report, err := d.query(ctx, req)
	if err != nil {
		checkDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	checkDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	if report.Flagged {
		flagsTotal.Inc()
	}

	d.storeReport(ctx, cacheKey, report)
	span.SetAttributes(attribute.Bool("flagged", report.Flagged))
	return report, nil
}

func (d *HTTPDetector) query(ctx context.Context, req CheckRequest) (Report, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Report{}, fmt.Errorf("marshal check request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/v1/check", bytes.NewReader(body))
	if err != nil {
		return Report{}, fmt.Errorf("build check request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return Report{}, fmt.Errorf("plagiarism check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("plagiarism check: unexpected status %d", resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return Report{}, fmt.Errorf("decode plagiarism report: %w", err)
	}

	return report, nil
}

func (d *HTTPDetector) cachedReport(ctx context.Context, key string) (Report, bool) {
	if d.cache == nil {
		return Report{}, false
	}

	raw, err := d.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			d.logger.Warn().Err(err).Str("key", key).Msg("plagiarism cache read failed")
		}
		return Report{}, false
	}

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("plagiarism cache entry corrupt")
		return Report{}, false
	}
	return report, true
}

func (d *HTTPDetector) storeReport(ctx context.Context, key string, report Report) {
	if d.cache == nil {
		return
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, raw, d.ttl).Err(); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("plagiarism cache write failed")
	}
}

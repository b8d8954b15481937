package database

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/metrics"
)

// QueryLoggerConfig configures query logging behavior.
type QueryLoggerConfig struct {
	// SlowQueryThreshold is the duration above which queries are logged at WARN.
	SlowQueryThreshold time.Duration

	// VerySlowQueryThreshold is the duration above which queries are logged at ERROR.
	VerySlowQueryThreshold time.Duration

	// LogAllQueries enables DEBUG logging of fast queries, subject to SampleRate.
	LogAllQueries bool

	// SampleRate is the fraction of fast queries logged when LogAllQueries is set.
	SampleRate float64
}

// DefaultQueryLoggerConfig returns sensible defaults for query logging.
func DefaultQueryLoggerConfig() *QueryLoggerConfig {
	return &QueryLoggerConfig{
		SlowQueryThreshold:     100 * time.Millisecond,
		VerySlowQueryThreshold: 500 * time.Millisecond,
		LogAllQueries:          false,
		SampleRate:             0.1,
	}
}

// QueryStats tracks query statistics.
type QueryStats struct {
	TotalQueries    int64
	SlowQueries     int64
	VerySlowQueries int64
	FailedQueries   int64

	mu              sync.RWMutex
	totalDuration   time.Duration
	slowestQuery    string
	slowestDuration time.Duration
}

// GetStats returns a copy of the current stats.
func (qs *QueryStats) GetStats() (total, slow, verySlow, failed int64, avgDuration time.Duration) {
	total = atomic.LoadInt64(&qs.TotalQueries)
	slow = atomic.LoadInt64(&qs.SlowQueries)
	verySlow = atomic.LoadInt64(&qs.VerySlowQueries)
	failed = atomic.LoadInt64(&qs.FailedQueries)

	if total > 0 {
		qs.mu.RLock()
		avgDuration = qs.totalDuration / time.Duration(total)
		qs.mu.RUnlock()
	}
	return
}

// GetSlowestQuery returns the slowest query seen and its duration.
func (qs *QueryStats) GetSlowestQuery() (query string, duration time.Duration) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	return qs.slowestQuery, qs.slowestDuration
}

func (qs *QueryStats) observe(sql string, duration time.Duration) {
	atomic.AddInt64(&qs.TotalQueries, 1)

	qs.mu.Lock()
	qs.totalDuration += duration
	if duration > qs.slowestDuration {
		qs.slowestDuration = duration
		qs.slowestQuery = truncateSQL(sql, 200)
	}
	qs.mu.Unlock()
}

// QueryLogger implements pgx.QueryTracer. Every query is counted, timed
// into the DB metrics and logged when slow or failed.
type QueryLogger struct {
	config  *QueryLoggerConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	stats   *QueryStats
	sample  uint64
}

// NewQueryLogger creates a new query logger. m may be nil.
func NewQueryLogger(cfg *QueryLoggerConfig, m *metrics.Metrics, logger *zap.Logger) *QueryLogger {
	if cfg == nil {
		cfg = DefaultQueryLoggerConfig()
	}
	return &QueryLogger{
		config:  cfg,
		metrics: m,
		logger:  logger.Named("query"),
		stats:   &QueryStats{},
	}
}

// Stats returns the query statistics.
func (ql *QueryLogger) Stats() *QueryStats {
	return ql.stats
}

type queryTraceData struct {
	startTime time.Time
	sql       string
}

type ctxKey struct{}

// TraceQueryStart implements pgx.QueryTracer.
func (ql *QueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, ctxKey{}, &queryTraceData{
		startTime: time.Now(),
		sql:       data.SQL,
	})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (ql *QueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	traceData, ok := ctx.Value(ctxKey{}).(*queryTraceData)
	if !ok {
		return
	}
	ql.record(traceData.sql, time.Since(traceData.startTime), data.CommandTag.String(), data.Err)
}

func (ql *QueryLogger) record(sql string, duration time.Duration, commandTag string, err error) {
	ql.stats.observe(sql, duration)
	if ql.metrics != nil {
		ql.metrics.RecordDBQuery(queryOperation(sql), duration, err)
	}

	if err != nil {
		atomic.AddInt64(&ql.stats.FailedQueries, 1)
		ql.logger.Error("query failed",
			zap.String("sql", truncateSQL(sql, 500)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	switch {
	case duration >= ql.config.VerySlowQueryThreshold:
		atomic.AddInt64(&ql.stats.VerySlowQueries, 1)
		atomic.AddInt64(&ql.stats.SlowQueries, 1)
		ql.logger.Error("very slow query detected",
			zap.String("sql", truncateSQL(sql, 500)),
			zap.Duration("duration", duration),
			zap.Duration("threshold", ql.config.VerySlowQueryThreshold),
			zap.String("command_tag", commandTag),
		)
	case duration >= ql.config.SlowQueryThreshold:
		atomic.AddInt64(&ql.stats.SlowQueries, 1)
		ql.logger.Warn("slow query detected",
			zap.String("sql", truncateSQL(sql, 500)),
			zap.Duration("duration", duration),
			zap.Duration("threshold", ql.config.SlowQueryThreshold),
			zap.String("command_tag", commandTag),
		)
	case ql.config.LogAllQueries && ql.shouldSample():
		ql.logger.Debug("query executed",
			zap.String("sql", truncateSQL(sql, 200)),
			zap.Duration("duration", duration),
			zap.String("command_tag", commandTag),
		)
	}
}

func (ql *QueryLogger) shouldSample() bool {
	if ql.config.SampleRate >= 1.0 {
		return true
	}
	if ql.config.SampleRate <= 0 {
		return false
	}
	count := atomic.AddUint64(&ql.sample, 1)
	threshold := uint64(1.0 / ql.config.SampleRate)
	return count%threshold == 0
}

// queryOperation labels a statement by its leading keyword so metric
// cardinality stays bounded.
func queryOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "other"
	}
	switch op := strings.ToLower(fields[0]); op {
	case "select", "insert", "update", "delete", "with":
		return op
	case "begin", "commit", "rollback":
		return "tx"
	default:
		return "other"
	}
}

func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen-3] + "..."
}

// LogStats logs current query statistics.
func (ql *QueryLogger) LogStats() {
	total, slow, verySlow, failed, avgDuration := ql.stats.GetStats()
	slowest, slowestDuration := ql.stats.GetSlowestQuery()

	ql.logger.Info("query statistics",
		zap.Int64("total_queries", total),
		zap.Int64("slow_queries", slow),
		zap.Int64("very_slow_queries", verySlow),
		zap.Int64("failed_queries", failed),
		zap.Duration("avg_duration", avgDuration),
		zap.String("slowest_query", slowest),
		zap.Duration("slowest_duration", slowestDuration),
	)
}

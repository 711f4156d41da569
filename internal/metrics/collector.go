package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
)

// RunStats is the subset of Context state the collector reads at scrape
// time. Defined as an interface so tests can supply a fake.
type RunStats interface {
	MemoryRSSMB() float64
}

// Collector implements prometheus.Collector, reading live pipeline and
// database-pool gauges at scrape time rather than push-updating them.
type Collector struct {
	pool  *pgxpool.Pool
	stats RunStats

	memoryRSS       *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector for one run. pool or stats may be nil;
// their gauges then report 0.
func NewCollector(pool *pgxpool.Pool, stats RunStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		memoryRSS: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "memory_rss_mb"),
			"Resident set size of the running process, in megabytes.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.memoryRSS
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	rss := 0.0
	if c.stats != nil {
		rss = c.stats.MemoryRSSMB()
	}
	ch <- prometheus.MustNewConstMetric(c.memoryRSS, prometheus.GaugeValue, rss)

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}

var _ RunStats = (*contextStatsAdapter)(nil)

// contextStatsAdapter adapts *etlcontext.Context to RunStats without
// making etlcontext depend on prometheus.
type contextStatsAdapter struct {
	ctx *etlcontext.Context
}

func (a *contextStatsAdapter) MemoryRSSMB() float64 {
	rss, _ := a.ctx.CheckMemory()
	return rss
}

// NewContextStats wraps a Context for use as a Collector's RunStats.
func NewContextStats(ctx *etlcontext.Context) RunStats {
	return &contextStatsAdapter{ctx: ctx}
}

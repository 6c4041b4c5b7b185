package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/task"
)

// StatsSource yields a point-in-time queue snapshot. Satisfied by
// *task.Queue.
type StatsSource interface {
	Stats() task.Stats
}

// queueCollector exports queue gauges computed at scrape time instead of
// being pushed on every transition.
type queueCollector struct {
	source StatsSource

	pending   *prometheus.Desc
	running   *prometheus.Desc
	completed *prometheus.Desc
	workers   *prometheus.Desc
}

// RegisterQueueCollector registers an on-demand collector over the task
// queue. No-op if metrics are not enabled.
func RegisterQueueCollector(source StatsSource) error {
	if !metrics.IsEnabled() {
		return nil
	}
	return metrics.GetRegistry().Register(&queueCollector{
		source: source,
		pending: prometheus.NewDesc(
			"driftsync_queue_pending_tasks",
			"Number of tasks waiting in the priority queue",
			nil, nil,
		),
		running: prometheus.NewDesc(
			"driftsync_queue_running_tasks",
			"Number of tasks currently held by workers",
			nil, nil,
		),
		completed: prometheus.NewDesc(
			"driftsync_queue_completed_tasks",
			"Number of terminal tasks retained in the completed buffer",
			nil, nil,
		),
		workers: prometheus.NewDesc(
			"driftsync_queue_workers",
			"Configured worker pool size",
			nil, nil,
		),
	})
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.running
	ch <- c.completed
	ch <- c.workers
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(stats.Pending))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(stats.Running))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.GaugeValue,
		float64(stats.Completed+stats.Failed+stats.Cancelled))
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(stats.Workers))
}

// Package metrics exports work queue statistics to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tahsin716/workq"
)

const namespace = "workq"

// StatsSource is anything that can produce queue statistics, normally a
// *workq.Queue.
type StatsSource interface {
	Stats() workq.Stats
}

// Collector turns Stats snapshots into Prometheus metrics on every scrape.
// Every metric carries a "queue" label so several queues can share a
// registry.
type Collector struct {
	name   string
	source StatsSource

	workers     *prometheus.Desc
	pending     *prometheus.Desc
	liveWorkers *prometheus.Desc
	itemsQueued *prometheus.Desc
	itemsAlloc  *prometheus.Desc
	setEvents   *prometheus.Desc
	extraItems  *prometheus.Desc
	spinLoops   *prometheus.Desc
	abandoned   *prometheus.Desc
	executed    *prometheus.Desc
	failed      *prometheus.Desc
	busySeconds *prometheus.Desc
	workerState *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for source, labelled with name.
func NewCollector(name string, source StatsSource) *Collector {
	queue := []string{"queue"}
	worker := []string{"queue", "worker", "helper"}
	desc := func(metric, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", metric), help, labels, nil)
	}

	return &Collector{
		name:   name,
		source: source,

		workers:     desc("workers", "Number of worker goroutines.", queue),
		pending:     desc("pending_items", "Items pending or executing.", queue),
		liveWorkers: desc("live_workers", "Workers currently out of the idle state.", queue),
		itemsQueued: desc("items_queued_total", "Items submitted since creation.", queue),
		itemsAlloc:  desc("items_allocated", "Items ever allocated from the arena.", queue),
		setEvents:   desc("set_events_total", "Wake and completion signals sent.", queue),
		extraItems:  desc("extra_items_total", "Items drained in a pass after its first item.", queue),
		spinLoops:   desc("spin_loops_total", "Spin windows that found new work.", queue),
		abandoned:   desc("abandoned_items_total", "Pending items dropped at destroy.", queue),

		executed:    desc("worker_items_executed_total", "Items executed by a worker record.", worker),
		failed:      desc("worker_items_failed_total", "Callbacks that panicked on a worker record.", worker),
		busySeconds: desc("worker_seconds_total", "Time a worker record spent per phase.", append(worker, "phase")),
		workerState: desc("worker_state", "Current worker state, 1 for the active one.", append(worker, "state")),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.workers, c.pending, c.liveWorkers, c.itemsQueued, c.itemsAlloc,
		c.setEvents, c.extraItems, c.spinLoops, c.abandoned,
		c.executed, c.failed, c.busySeconds, c.workerState,
	} {
		ch <- d
	}
}

var workerStates = []string{
	workq.StateIdle.String(),
	workq.StateActive.String(),
	workq.StateSpinning.String(),
	workq.StateExiting.String(),
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.workers, float64(s.Workers), c.name)
	gauge(c.pending, float64(s.Pending), c.name)
	gauge(c.liveWorkers, float64(s.LiveWorkers), c.name)
	counter(c.itemsQueued, float64(s.ItemsQueued), c.name)
	gauge(c.itemsAlloc, float64(s.ItemsAllocated), c.name)
	counter(c.setEvents, float64(s.SetEvents), c.name)
	counter(c.extraItems, float64(s.ExtraItems), c.name)
	counter(c.spinLoops, float64(s.SpinLoops), c.name)
	counter(c.abandoned, float64(s.Abandoned), c.name)

	for _, ws := range s.WorkerStats {
		id := strconv.Itoa(ws.WorkerID)
		helper := strconv.FormatBool(ws.Helper)

		counter(c.executed, float64(ws.ItemsExecuted), c.name, id, helper)
		counter(c.failed, float64(ws.ItemsFailed), c.name, id, helper)
		counter(c.busySeconds, ws.RunTime.Seconds(), c.name, id, helper, "run")
		counter(c.busySeconds, ws.SpinTime.Seconds(), c.name, id, helper, "spin")
		counter(c.busySeconds, ws.WaitTime.Seconds(), c.name, id, helper, "wait")

		if ws.Helper {
			continue
		}
		for _, state := range workerStates {
			v := 0.0
			if ws.State == state {
				v = 1
			}
			gauge(c.workerState, v, c.name, id, helper, state)
		}
	}
}

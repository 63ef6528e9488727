package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))
			manager.setsFinished.Inc()

			Convey("Then metrics are enabled under the rally namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Enabled(), ShouldBeTrue)
				So(gatheredNames(registry), ShouldContain, "rally_scoring_sets_finished_total")
			})
		})

		Convey("When creating with a custom namespace", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace("court7"), WithPrometheusRegistry(registry))
			manager.setsFinished.Inc()

			Convey("Then every metric carries it", func() {
				names := gatheredNames(registry)
				So(names, ShouldContain, "court7_scoring_sets_finished_total")
				for _, n := range names {
					So(strings.HasPrefix(n, "court7_scoring_"), ShouldBeTrue)
				}
			})
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given the global manager is reconfigured", t, func() {
		previous := GetRegistry()
		Reset(func() { Configure() })

		Convey("When a namespace is configured", func() {
			m := Configure(WithNamespace("arena"))
			RecordMatchCreated()

			Convey("Then the exported registry is rebuilt under it", func() {
				So(GetRegistry(), ShouldNotEqual, previous)
				So(m.Enabled(), ShouldBeTrue)
				So(testutil.ToFloat64(globalManager.matchesCreated), ShouldEqual, 1)
				So(gatheredNames(GetRegistry()), ShouldContain, "arena_scoring_matches_created_total")
			})
		})

		Convey("When recording is disabled", func() {
			m := Configure(WithMetricsEnabled(false))
			RecordMatchCreated()
			RecordPointApplied("volleyball", 1)

			Convey("Then recorders leave the counters untouched", func() {
				So(m.Enabled(), ShouldBeFalse)
				So(testutil.ToFloat64(globalManager.matchesCreated), ShouldEqual, 0)
				So(testutil.ToFloat64(globalManager.pointsApplied.WithLabelValues("volleyball", "add")), ShouldEqual, 0)
			})
		})
	})
}

func gatheredNames(g prometheus.Gatherer) []string {
	families, err := g.Gather()
	So(err, ShouldBeNil)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When scoring outcomes are recorded", func() {
			sets := testutil.ToFloat64(globalManager.setsFinished)
			matches := testutil.ToFloat64(globalManager.matchesFinished)
			adds := testutil.ToFloat64(globalManager.pointsApplied.WithLabelValues("volleyball", "add"))
			removes := testutil.ToFloat64(globalManager.pointsApplied.WithLabelValues("volleyball", "remove"))

			RecordPointApplied("volleyball", 1)
			RecordPointApplied("volleyball", -1)
			RecordSetFinished()
			RecordMatchFinished()

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.setsFinished), ShouldEqual, sets+1)
				So(testutil.ToFloat64(globalManager.matchesFinished), ShouldEqual, matches+1)
				So(testutil.ToFloat64(globalManager.pointsApplied.WithLabelValues("volleyball", "add")), ShouldEqual, adds+1)
				So(testutil.ToFloat64(globalManager.pointsApplied.WithLabelValues("volleyball", "remove")), ShouldEqual, removes+1)
			})
		})

		Convey("When write contention is recorded", func() {
			conflicts := testutil.ToFloat64(globalManager.writeConflicts)
			retries := testutil.ToFloat64(globalManager.writeRetries.WithLabelValues("conflict"))
			RecordWriteConflict()
			RecordWriteRetry("conflict")
			So(testutil.ToFloat64(globalManager.writeConflicts), ShouldEqual, conflicts+1)
			So(testutil.ToFloat64(globalManager.writeRetries.WithLabelValues("conflict")), ShouldEqual, retries+1)
		})

		Convey("When gauges are set", func() {
			UpdateMatchCounts(2, 5)
			UpdateQueueSize(7)
			UpdateNotifySubscribers(3)
			So(testutil.ToFloat64(globalManager.activeMatches), ShouldEqual, 2)
			So(testutil.ToFloat64(globalManager.totalMatches), ShouldEqual, 5)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
			So(testutil.ToFloat64(globalManager.notifySubscribers), ShouldEqual, 3)
		})

		Convey("When the remaining recorders are called", func() {
			So(func() {
				RecordOperation("apply_point", "ok", 1.5)
				RecordMatchCreated()
				RecordBudgetRejection("timeout")
				RecordStoreLatency("memory", "commit", 0.1)
				RecordStoreError("sqlite", "commit", "unavailable")
				RecordHTTPRequest("/matches", "POST", "201")
				RecordHTTPRequestDuration("/matches", "POST", "201", 2)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.2)
				UpdateWorkerCount(4)
				UpdateWorkerActiveCount(4)
				UpdateWorkerMessagesPerSecond(10)
				RecordWorkerProcessingLatency(0.3)
				RecordWorkerError()
				RecordNotifyDelivered()
				RecordNotifyDropped()
				RecordViewerRefresh("ok")
				RecordErrorByComponent("service", "conflict")
				RecordErrorByEndpoint("/matches", "POST", "validation")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
			}, ShouldNotPanic)
		})

		Convey("Then the global registry gathers without error", func() {
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}

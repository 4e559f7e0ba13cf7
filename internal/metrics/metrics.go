// Copyright 2024 Greptime Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics registers the prometheus collectors for the flow
// node runtime as package-scope promauto Histogram/CounterVecs, never
// constructed per-call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TaskLabels names the label set attached to every per-task metric.
var TaskLabels = []string{"task_id"}

// LatencyBuckets is the shared histogram bucket layout for duration
// metrics (sub-millisecond through multi-second).
var LatencyBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

var (
	// TickDurations records how long one ActiveDataflowState.Tick call
	// takes, per task.
	TickDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flownode_tick_duration_seconds",
		Help:    "the length of time it took to run one dataflow tick",
		Buckets: LatencyBuckets,
	}, TaskLabels)

	// TickErrors counts structural (subgraph-aborting) tick errors, per
	// task.
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flownode_tick_errors_total",
		Help: "the number of tick calls that returned a structural error",
	}, TaskLabels)

	// OperatorRowErrors counts per-row errors recorded into a
	// dataflow's ErrorCollector without aborting the subgraph, per task.
	OperatorRowErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flownode_operator_row_errors_total",
		Help: "the number of per-row operator errors recorded during a tick",
	}, TaskLabels)

	// ArrangementSize reports the current key count summed over every
	// arrangement in a task's output bundle, per task.
	ArrangementSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flownode_arrangement_keys",
		Help: "the number of distinct keys currently held across a task's arrangements",
	}, TaskLabels)

	// TasksInstalled reports the number of currently-installed tasks.
	TasksInstalled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flownode_tasks_installed",
		Help: "the number of dataflows currently installed in the manager",
	})
)

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

// Command flownoded runs a standalone flow node manager: it ticks every
// installed dataflow at most one tick interval apart (sooner when a
// scheduled-state deadline is due) and serves Prometheus metrics. It
// exposes no API for installing tasks or pushing source rows.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/GreptimeTeam/greptime-flownode/internal/adapter"
	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/util/stopper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var metricsAddr = ":9090"

func main() {
	var cfg adapter.Config
	cfg.Bind(pflag.CommandLine)
	pflag.StringVar(&metricsAddr, "metricsAddr", metricsAddr, "the network address to serve /metrics on")
	pflag.Parse()

	manager, err := NewManager(&cfg)
	if err != nil {
		log.WithField("error", err).Fatal("flownoded: configuration rejected")
	}

	ctx := stopper.WithContext(context.Background())
	ctx.Go(func(*stopper.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.WithField("addr", metricsAddr).Info("flownoded: serving metrics")
		return http.ListenAndServe(metricsAddr, mux)
	})

	ctx.Go(func(c *stopper.Context) error {
		return tickLoop(c, manager, cfg.TickInterval)
	})

	if err := ctx.Wait(); err != nil {
		log.WithField("error", err).Error("flownoded: exiting on error")
		os.Exit(1)
	}
}

// tickLoop drives the manager forward until the stopper context is
// cancelled, counting ticks as elapsed wall-clock milliseconds since
// start to stand in for a real logical clock source. Rather than firing
// strictly on a fixed interval, it wakes early when the manager's
// WakeupSet hint reports a scheduled-state deadline sooner than the next
// regular tick; interval remains the ceiling so an idle manager still
// ticks regularly to drain pushed source rows.
func tickLoop(ctx *stopper.Context, manager *adapter.Manager, interval time.Duration) error {
	start := time.Now()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			ts := diff.Timestamp(time.Since(start).Milliseconds())
			if err := manager.Tick(ts); err != nil {
				log.WithField("error", err).Warn("flownoded: tick reported a structural error")
			}
			timer.Reset(nextDelay(manager, ts, interval))
		}
	}
}

// nextDelay bounds the wait until the next tick by both the configured
// interval (so an idle manager still ticks to drain pushed rows) and the
// manager's earliest pending scheduled-state wakeup, whichever is
// sooner; it never returns a non-positive duration.
func nextDelay(manager *adapter.Manager, now diff.Timestamp, interval time.Duration) time.Duration {
	hint, _ := manager.NextWakeup().Get()
	if !hint.Has {
		return interval
	}
	wait := time.Duration(hint.At-now) * time.Millisecond
	if wait <= 0 {
		return time.Millisecond
	}
	if wait > interval {
		return interval
	}
	return wait
}

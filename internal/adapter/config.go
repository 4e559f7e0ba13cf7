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

// Package adapter implements the flow node manager: the component that
// owns every installed dataflow on one cooperative worker, routes
// incoming writes to per-table broadcast fan-outs, and exposes a sink
// fan-in per dataflow. It plays the same role a changefeed server
// process plays for its own sources and sinks, wired the same way
// (pflag-bound Config, logrus, errgroup fan-out).
package adapter

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config contains the user-visible configuration for running a flow
// node manager: a Bind/Preflight pair wrapping flags directly into
// struct fields.
type Config struct {
	TickInterval  time.Duration
	ErrorRingSize int
	BroadcastSize int
}

// Bind registers flags onto flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.DurationVar(
		&c.TickInterval,
		"tickInterval",
		100*time.Millisecond,
		"the interval between dataflow ticks")
	flags.IntVar(
		&c.ErrorRingSize,
		"errorRingSize",
		64,
		"the number of per-task errors retained for introspection")
	flags.IntVar(
		&c.BroadcastSize,
		"broadcastBatchSize",
		1024,
		"the broadcast batch size; must be positive (push_source does not cap or split batches by it)")
}

// Preflight validates the configuration.
func (c *Config) Preflight() error {
	if c.TickInterval <= 0 {
		return errors.New("tickInterval must be positive")
	}
	if c.ErrorRingSize <= 0 {
		return errors.New("errorRingSize must be positive")
	}
	if c.BroadcastSize <= 0 {
		return errors.New("broadcastBatchSize must be positive")
	}
	return nil
}

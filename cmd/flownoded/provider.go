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

package main

import (
	"github.com/GreptimeTeam/greptime-flownode/internal/adapter"
	"github.com/google/wire"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideManager,
)

// ProvideManager is called by Wire to validate the daemon's
// configuration and construct its Manager.
func ProvideManager(config *adapter.Config) (*adapter.Manager, error) {
	if err := config.Preflight(); err != nil {
		return nil, err
	}
	return adapter.NewManager(*config), nil
}

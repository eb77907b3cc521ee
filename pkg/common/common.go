/**
 * Copyright 2021 The IcecaneDB Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"strings"
)

// RunMode tells how the engine is hosted.
type RunMode int

const (
	// Embedded is the default mode. The engine drives its own checkpoint goroutine.
	Embedded RunMode = iota

	// ClientServer means the hosting server schedules the checkpoint runner itself.
	ClientServer
)

func (r RunMode) String() string {
	switch r {
	case Embedded:
		return "embedded"
	case ClientServer:
		return "client_server"
	}
	return fmt.Sprintf("RunMode(%d)", int(r))
}

// ParseRunMode parses the textual run mode used in configs.
func ParseRunMode(s string) (RunMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "embedded":
		return Embedded, nil
	case "client_server", "clientserver":
		return ClientServer, nil
	}
	return Embedded, fmt.Errorf("invalid run mode %q", s)
}

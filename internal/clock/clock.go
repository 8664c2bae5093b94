// Copyright 2025 Google LLC
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

// Package clock wraps jacobsa/timeutil's Clock with an After() extension,
// and supplies fake implementations for tests that want to control elapsed
// time without sleeping. The recorder CLI uses Now for session-duration
// logging.
package clock

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Clock is timeutil.Clock (just Now) plus an After method for scheduling,
// matching what jacobsa/fuse's own samples and gcsfuse's fs package expect
// from a clock abstraction.
type Clock interface {
	timeutil.Clock
	After(d time.Duration) <-chan time.Time
}

// New returns the real wall-clock implementation.
func New() Clock {
	return RealClock{}
}

// Copyright 2025 Microsoft Corporation
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

// Package polling provides the single retry-with-timeout primitive used by
// every wait in this tool: the ARM provider registration wait and the
// registration propagation wait both go through Until.
package polling

import (
	"context"
	"time"
)

// Outcome is the terminal state of a poll.
type Outcome int

const (
	// Satisfied means the condition reported true before the timeout.
	Satisfied Outcome = iota
	// TimedOut means the timeout elapsed with the condition still false.
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "satisfied"
	case TimedOut:
		return "timedOut"
	default:
		return "unknown"
	}
}

// Condition is evaluated once per interval. Returning an error aborts the
// poll immediately; the error propagates to the caller of Until.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond every interval until it returns true, the timeout
// elapses, or ctx is canceled. The first evaluation happens immediately.
// Cancellation returns ctx.Err(); it never attempts to undo whatever the
// condition was observing.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) (Outcome, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return TimedOut, err
		}
		if done {
			return Satisfied, nil
		}

		select {
		case <-ctx.Done():
			return TimedOut, ctx.Err()
		case <-deadline.C:
			return TimedOut, nil
		case <-ticker.C:
		}
	}
}

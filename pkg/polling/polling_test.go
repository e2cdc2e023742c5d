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

package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilSatisfiedImmediately(t *testing.T) {
	calls := 0
	outcome, err := Until(context.Background(), time.Hour, time.Hour, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, Satisfied, outcome)
	assert.Equal(t, 1, calls, "first evaluation must not wait for the interval")
}

func TestUntilSatisfiedAfterRetries(t *testing.T) {
	calls := 0
	outcome, err := Until(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, Satisfied, outcome)
	assert.Equal(t, 3, calls)
}

func TestUntilTimesOut(t *testing.T) {
	outcome, err := Until(context.Background(), time.Millisecond, 20*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, outcome)
}

func TestUntilConditionErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Until(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestUntilCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Until(ctx, time.Second, time.Minute, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "satisfied", Satisfied.String())
	assert.Equal(t, "timedOut", TimedOut.String())
}

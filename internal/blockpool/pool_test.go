/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package blockpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 256, cfg.MaxIdleWorkers)
	require.Equal(t, time.Minute, cfg.WorkerMaxAge)
	require.Equal(t, 256, cfg.TaskChanBuffer)
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := DefaultConfig()
	WithMaxIdleWorkers(4)(&cfg)
	WithWorkerMaxAge(time.Second)(&cfg)
	WithTaskChanBuffer(8)(&cfg)

	require.Equal(t, 4, cfg.MaxIdleWorkers)
	require.Equal(t, time.Second, cfg.WorkerMaxAge)
	require.Equal(t, 8, cfg.TaskChanBuffer)
}

func TestSubmitRunsEveryTask(t *testing.T) {
	p := New(WithMaxIdleWorkers(4), WithTaskChanBuffer(4))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < n; i++ {
		i := i
		p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			seen[i] = true
			mu.Unlock()
		})
	}

	wg.Wait()
	require.Len(t, seen, n)
}

func TestSubmitAfterCloseStillRuns(t *testing.T) {
	p := New()
	p.Close()

	done := make(chan struct{})
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task submitted after Close never ran")
	}
}

func TestPanicHandlerReceivesRecoveredValue(t *testing.T) {
	p := New()
	recovered := make(chan interface{}, 1)
	p.SetPanicHandler(func(r interface{}) { recovered <- r })

	p.Submit(func() { panic("boom") })

	select {
	case r := <-recovered:
		require.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic handler never invoked")
	}
}

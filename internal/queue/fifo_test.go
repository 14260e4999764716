/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainPreservesOrder(t *testing.T) {
	q := New[int]()
	var got []int
	done := make(chan struct{})
	go func() {
		q.Drain(func(v int) {
			got = append(got, v)
			if v == 99 {
				close(done)
			}
		})
	}()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(i))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not finish")
	}
	q.Close()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPushAfterCloseIsRejected(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Close()
	q.Close()
	assert.False(t, q.Push("b"))
	_, ok := q.TryPop()
	assert.False(t, ok, "items left at close are dropped")
	assert.Zero(t, q.Len())
}

func TestDrainReturnsOnClose(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Drain(func(int) {})
	}()
	q.Close()
	wg.Wait()
}

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

package mvcc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatchSerializesSameKeys(t *testing.T) {
	lt := &latchTable{}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				// duplicate keys must not self deadlock.
				release := lt.acquire([]string{"b", "a", "a"})
				counter++
				release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, counter)
}

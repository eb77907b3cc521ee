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
	"time"

	units "github.com/docker/go-units"
	"github.com/dr0pdb/aote/pkg/common"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// CheckpointService periodically collects old versions and checkpoints the maps.
//
// A pass is triggered by a wakeup, by the loop interval timeout or by Close.
// It checkpoints when forced, when the checkpoint period elapsed or when the
// estimated dirty memory exceeds the committed data cache size.
type CheckpointService struct {
	engine          *Engine
	period          time.Duration
	loopInterval    time.Duration
	memoryThreshold int64

	// wake holds at most one pending wakeup.
	wake  chan struct{}
	force atomic.Bool

	running atomic.Bool
	closed  atomic.Bool
	closeCh chan struct{}
	done    chan struct{}

	// finalErr is the result of the pass run by the loop on close.
	finalErr error

	// mu serializes the passes.
	mu          sync.Mutex
	lastSavedAt time.Time
}

func newCheckpointService(e *Engine, conf *common.EngineConfig, memoryThreshold int64) *CheckpointService {
	return &CheckpointService{
		engine:          e,
		period:          conf.CheckpointPeriod,
		loopInterval:    conf.LoopInterval(),
		memoryThreshold: memoryThreshold,
		wake:            make(chan struct{}, 1),
		closeCh:         make(chan struct{}),
		done:            make(chan struct{}),
		lastSavedAt:     time.Now(),
	}
}

// Start runs the service loop in a new goroutine.
func (cs *CheckpointService) Start() {
	if cs.running.CAS(false, true) {
		go cs.loop()
	}
}

// Run runs the service loop in the calling goroutine until Close.
// Only the first call of Run or Start runs the loop.
func (cs *CheckpointService) Run() {
	if cs.running.CAS(false, true) {
		cs.loop()
	}
}

func (cs *CheckpointService) loop() {
	defer close(cs.done)

	log.WithFields(log.Fields{
		"period":       cs.period,
		"loopInterval": cs.loopInterval,
		"threshold":    units.BytesSize(float64(cs.memoryThreshold)),
	}).Info("mvcc::checkpoint::Run; started")

	for {
		select {
		case <-cs.closeCh:
			cs.finalErr = cs.runPass(true)
			log.Info("mvcc::checkpoint::Run; stopped")
			return
		case <-cs.wake:
		case <-time.After(cs.loopInterval):
		}

		if cs.closed.Load() {
			continue
		}
		cs.runPass(cs.force.Swap(false))
	}
}

// Wakeup asks the loop for a pass. Wakeups that arrive while one is pending coalesce.
func (cs *CheckpointService) Wakeup() {
	select {
	case cs.wake <- struct{}{}:
	default:
	}
}

// WakeupForce asks the loop for a forced checkpoint.
func (cs *CheckpointService) WakeupForce() {
	cs.force.Store(true)
	cs.Wakeup()
}

// Checkpoint runs a forced pass in the calling goroutine.
func (cs *CheckpointService) Checkpoint() error {
	return cs.runPass(true)
}

// LastSavedAt returns the time of the last checkpoint attempt.
func (cs *CheckpointService) LastSavedAt() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.lastSavedAt
}

// runPass collects old versions and checkpoints when a trigger holds.
func (cs *CheckpointService) runPass(force bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.engine.gc()

	elapsed := time.Since(cs.lastSavedAt)
	memory := cs.engine.maps.totalMemory.Load()
	if !force && elapsed < cs.period && memory <= cs.memoryThreshold {
		return nil
	}

	log.WithFields(log.Fields{
		"force":   force,
		"elapsed": elapsed,
		"dirty":   units.BytesSize(float64(memory)),
	}).Debug("mvcc::checkpoint::runPass; checkpointing")

	err := cs.engine.checkpoint(force || cs.closed.Load())
	cs.lastSavedAt = time.Now()
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Error("mvcc::checkpoint::runPass; checkpoint failed")
	}
	return err
}

// Close stops the loop after a final forced checkpoint and waits for it.
// Closing twice is a no-op.
func (cs *CheckpointService) Close() error {
	if !cs.closed.CAS(false, true) {
		return nil
	}
	close(cs.closeCh)

	if cs.running.Load() {
		<-cs.done
		return cs.finalErr
	}
	return cs.runPass(true)
}

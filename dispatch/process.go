// Copyright 2025 Fleetbridge
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

package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"
)

// DefaultTerminateGrace is how long Terminate waits after SIGTERM before
// escalating to SIGKILL.
const DefaultTerminateGrace = 5 * time.Second

// ProcessController abstracts liveness checks and termination for worker
// processes tracked by pid on this host.
type ProcessController interface {
	Alive(pid int) bool
	Terminate(ctx context.Context, pid int) error
}

// OSProcessController signals real OS processes. Termination is graceful
// first and escalates only when the process outlives the grace window.
type OSProcessController struct {
	Grace  time.Duration
	logger *log.Logger
}

// NewProcessController returns an OSProcessController with the default
// grace window.
func NewProcessController() *OSProcessController {
	return &OSProcessController{
		Grace:  DefaultTerminateGrace,
		logger: log.New(os.Stdout, "[PROCESS] ", log.LstdFlags),
	}
}

// Alive reports whether a process with this pid exists. Signal 0 performs
// the existence check without delivering anything.
func (c *OSProcessController) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Terminate sends SIGTERM, waits up to the grace window for the process to
// exit, then sends SIGKILL if it is still alive. Best effort: a process
// that disappears mid-sequence is a success, not an error.
func (c *OSProcessController) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}
	c.logger.Printf("Sent SIGTERM to pid %d, waiting %s", pid, c.Grace)

	deadline := time.NewTimer(c.Grace)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			if !c.Alive(pid) {
				return nil
			}
		case <-deadline.C:
			c.logger.Printf("Pid %d survived grace window, sending SIGKILL", pid)
			if err := proc.Signal(syscall.SIGKILL); err != nil {
				return nil
			}
			return nil
		}
	}
}

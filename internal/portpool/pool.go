// Copyright 2025 Tom Barlow
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

// Package portpool hands out TCP ports for FDT servers from a fixed range.
//
// Reservation is round-robin by reuse count: the free port that has been
// reserved the fewest times wins, ties going to the lowest port. Spreading
// reservations across the range keeps a just-released port from being bound
// again while the kernel may still hold it.
package portpool

import (
	"fmt"
	"sync"

	"github.com/tombee/fdtd/pkg/errors"
)

// Port is a single slot in the pool.
type Port struct {
	Number        int  `json:"port"`
	ReservedTimes int  `json:"reservedTimes"`
	ReservedNow   bool `json:"reservedNow"`
}

// Pool is a thread-safe port reservation pool over an inclusive range.
type Pool struct {
	mu    sync.Mutex
	min   int
	max   int
	ports []Port
	taken int
}

// New creates a pool covering [min, max].
func New(min, max int) (*Pool, error) {
	if min <= 0 || max > 65535 {
		return nil, &errors.ValidationError{
			Field:   "port_range",
			Message: fmt.Sprintf("range %d-%d is outside 1-65535", min, max),
		}
	}
	if min > max {
		return nil, &errors.ValidationError{
			Field:   "port_range",
			Message: fmt.Sprintf("min %d is greater than max %d", min, max),
		}
	}

	ports := make([]Port, 0, max-min+1)
	for n := min; n <= max; n++ {
		ports = append(ports, Port{Number: n})
	}
	return &Pool{min: min, max: max, ports: ports}, nil
}

// Reserve checks out the least reused free port.
func (p *Pool) Reserve() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := -1
	for i := range p.ports {
		if p.ports[i].ReservedNow {
			continue
		}
		if best == -1 || p.ports[i].ReservedTimes < p.ports[best].ReservedTimes {
			best = i
		}
	}
	if best == -1 {
		return 0, &errors.PortError{Kind: errors.PortNoFree, Min: p.min, Max: p.max}
	}

	p.ports[best].ReservedNow = true
	p.ports[best].ReservedTimes++
	p.taken++
	return p.ports[best].Number, nil
}

// Release returns a reserved port to the pool. Releasing a port that is
// free or outside the range fails.
func (p *Pool) Release(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < p.min || port > p.max || !p.ports[port-p.min].ReservedNow {
		return &errors.PortError{Kind: errors.PortNotReserved, Port: port, Min: p.min, Max: p.max}
	}
	p.ports[port-p.min].ReservedNow = false
	p.taken--
	return nil
}

// Contains reports whether port lies inside the pool range.
func (p *Pool) Contains(port int) bool {
	return port >= p.min && port <= p.max
}

// Taken returns the number of ports currently checked out.
func (p *Pool) Taken() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.taken
}

// Size returns the number of ports in the range.
func (p *Pool) Size() int {
	return len(p.ports)
}

// Range returns the inclusive bounds of the pool.
func (p *Pool) Range() (min, max int) {
	return p.min, p.max
}

// Snapshot returns a copy of every slot in port order.
func (p *Pool) Snapshot() []Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Port, len(p.ports))
	copy(out, p.ports)
	return out
}

// String implements fmt.Stringer.
func (p *Pool) String() string {
	return fmt.Sprintf("port pool %d-%d (%d/%d taken)", p.min, p.max, p.Taken(), p.Size())
}

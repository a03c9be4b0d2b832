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

package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/tombee/fdtd/pkg/errors"
)

// SocketOwner is a process holding a socket on some port.
type SocketOwner struct {
	PID     int
	Command string
}

// FindPortOwners scans /proc for processes with a TCP socket bound to
// port. Processes whose descriptors cannot be read (other users without
// privileges) are skipped.
func FindPortOwners(port int) ([]SocketOwner, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, errors.Wrap(err, "opening /proc")
	}
	inodes, err := portInodes(fs, port)
	if err != nil {
		return nil, err
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, errors.Wrap(err, "listing processes")
	}

	var owners []SocketOwner
	for _, p := range procs {
		if !holdsAny(p, inodes) {
			continue
		}
		owner := SocketOwner{PID: p.PID}
		if args, err := p.CmdLine(); err == nil && len(args) > 0 {
			owner.Command = strings.Join(args, " ")
		} else if comm, err := p.Comm(); err == nil {
			owner.Command = comm
		}
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].PID < owners[j].PID })
	return owners, nil
}

// ProcessBindsPort reports whether pid holds a TCP socket on port.
func ProcessBindsPort(pid, port int) (bool, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return false, errors.Wrap(err, "opening /proc")
	}
	inodes, err := portInodes(fs, port)
	if err != nil || len(inodes) == 0 {
		return false, err
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return false, errors.Wrapf(err, "reading /proc/%d", pid)
	}
	return holdsAny(proc, inodes), nil
}

// WaitPortReleased polls until pid no longer holds a socket on port.
// It returns a TimeoutError when ctx ends first.
func WaitPortReleased(ctx context.Context, pid, port int, interval time.Duration) error {
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		bound, err := ProcessBindsPort(pid, port)
		if err != nil {
			return err
		}
		if !bound {
			return nil
		}
		select {
		case <-ctx.Done():
			return &errors.TimeoutError{
				Operation: fmt.Sprintf("release of port %d", port),
				Duration:  time.Since(start),
				Cause:     ctx.Err(),
			}
		case <-ticker.C:
		}
	}
}

// portInodes collects the socket inodes of TCP and TCP6 entries whose
// local port is port. Entries without an inode (TIME_WAIT) are skipped.
func portInodes(fs procfs.FS, port int) (map[string]struct{}, error) {
	inodes := make(map[string]struct{})

	collect := func(tcp procfs.NetTCP) {
		for _, line := range tcp {
			if int(line.LocalPort) == port && line.Inode != 0 {
				inodes[fmt.Sprintf("socket:[%d]", line.Inode)] = struct{}{}
			}
		}
	}

	tcp, err := fs.NetTCP()
	if err != nil {
		return nil, errors.Wrap(err, "reading /proc/net/tcp")
	}
	collect(tcp)

	// IPv6 may be disabled on the host.
	if tcp6, err := fs.NetTCP6(); err == nil {
		collect(tcp6)
	}
	return inodes, nil
}

func holdsAny(p procfs.Proc, inodes map[string]struct{}) bool {
	targets, err := p.FileDescriptorTargets()
	if err != nil {
		return false
	}
	for _, t := range targets {
		if _, ok := inodes[t]; ok {
			return true
		}
	}
	return false
}

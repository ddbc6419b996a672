package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/newtron-network/newtval/pkg/util"
)

// ProgramInfo is a supervisord program's state inside a container.
type ProgramInfo struct {
	Status string // RUNNING, STOPPED, EXITED, ...
	PID    int    // 0 unless running
}

// ProgramStatus asks supervisord in container for program's state.
func (h *Host) ProgramStatus(container, program string) (ProgramInfo, error) {
	cmd := fmt.Sprintf("docker exec %s supervisorctl status %s", container, program)
	// supervisorctl exits non-zero for stopped programs; the output is
	// still a status line.
	out, err := h.Shell(cmd)
	info, perr := ParseProgramStatus(out, program)
	if perr != nil {
		if err != nil {
			return ProgramInfo{}, fmt.Errorf("program %s in %s on %s: %w", program, container, h.Name, err)
		}
		return ProgramInfo{}, perr
	}
	return info, nil
}

// ParseProgramStatus parses a supervisorctl status line such as
// "tunnel_packet_handler   RUNNING   pid 42, uptime 1:02:03".
func ParseProgramStatus(output, program string) (ProgramInfo, error) {
	for _, line := range util.NonEmptyLines(output) {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != program {
			continue
		}
		info := ProgramInfo{Status: fields[1]}
		if len(fields) >= 4 && fields[2] == "pid" {
			pid, err := strconv.Atoi(strings.TrimSuffix(fields[3], ","))
			if err == nil {
				info.PID = pid
			}
		}
		return info, nil
	}
	return ProgramInfo{}, fmt.Errorf("program %s: %w", program, util.ErrNotFound)
}

// ProcessPID returns the PID of the first process whose command line
// contains pattern.
func (h *Host) ProcessPID(pattern string) (int, error) {
	cmd := fmt.Sprintf("ps -ef | grep %s | grep -v grep | awk '{print $2}'", shellQuote(pattern))
	lines, err := h.ShellLines(cmd)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, fmt.Errorf("process %s on %s: %w", pattern, h.Name, util.ErrNotFound)
	}
	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return 0, fmt.Errorf("process %s on %s: bad pid %q", pattern, h.Name, lines[0])
	}
	return pid, nil
}

// ProcessRSSMB returns the resident set size of pid in MB.
func (h *Host) ProcessRSSMB(pid int) (float64, error) {
	out, err := h.Shell(fmt.Sprintf("cat /proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	return ParseVmRSS(out)
}

// MemoryUsageMB returns the RSS in MB of the process matching pattern.
func (h *Host) MemoryUsageMB(pattern string) (float64, error) {
	pid, err := h.ProcessPID(pattern)
	if err != nil {
		return 0, err
	}
	mb, err := h.ProcessRSSMB(pid)
	if err != nil {
		return 0, err
	}
	util.WithDevice(h.Name).Infof("%s PID %d, MEM USAGE: %.2f MB", pattern, pid, mb)
	return mb, nil
}

// ParseVmRSS extracts VmRSS from /proc/<pid>/status, converted from kB to MB.
func ParseVmRSS(status string) (float64, error) {
	for _, line := range util.NonEmptyLines(status) {
		key, val, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(key, "VmRSS") {
			continue
		}
		fields := strings.Fields(val)
		if len(fields) == 0 {
			break
		}
		kb, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, fmt.Errorf("VmRSS %q: %w", val, err)
		}
		return float64(kb) / 1024, nil
	}
	return 0, fmt.Errorf("VmRSS: %w", util.ErrNotFound)
}

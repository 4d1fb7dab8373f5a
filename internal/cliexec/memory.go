package cliexec

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// MinFreeMemoryMB is the default pre-spawn memory gate of §4.6 step c.
const MinFreeMemoryMB = 512

// FreeMemoryMB is the OS-specific probe §4.6 step c calls for. It reads
// MemAvailable from /proc/meminfo on Linux; platforms without that file
// report a generous sentinel so the gate never spuriously trips where
// the probe isn't implemented.
var FreeMemoryMB = freeMemoryMBLinux

const unknownFreeMemoryMB = 1 << 20 // ~1TB sentinel: "don't know, don't block"

func freeMemoryMBLinux() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return unknownFreeMemoryMB
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return unknownFreeMemoryMB
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return unknownFreeMemoryMB
		}
		return kb / 1024
	}
	return unknownFreeMemoryMB
}

package sim

import "sync"

// Accumulator counts bytes and packets delivered to every sink. The sampler
// drains the per-tick counters; running totals are kept for status reports.
type Accumulator struct {
	mu           sync.Mutex
	bytes        int64
	packets      int
	totalBytes   int64
	totalPackets int
}

// Add records one received datagram of size bytes.
func (a *Accumulator) Add(size int) {
	a.mu.Lock()
	a.bytes += int64(size)
	a.packets++
	a.totalBytes += int64(size)
	a.totalPackets++
	a.mu.Unlock()
}

// Drain returns the counters since the previous drain and resets them.
func (a *Accumulator) Drain() (bytes int64, packets int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bytes, packets = a.bytes, a.packets
	a.bytes, a.packets = 0, 0
	return bytes, packets
}

// Totals returns counts since the accumulator was created.
func (a *Accumulator) Totals() (bytes int64, packets int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalBytes, a.totalPackets
}

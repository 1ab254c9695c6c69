package metrics

import (
	"sync"
)

// Collector collects protocol engine metrics. All methods are safe for
// concurrent use and safe to call on a nil receiver, so callers never need
// to guard for a disabled collector.
type Collector struct {
	mu sync.RWMutex

	// Session metrics
	sessionsOpened uint64
	sessionsFailed uint64

	// Frame metrics
	framesSent     uint64
	framesReceived uint64
	bytesSent      uint64
	bytesReceived  uint64

	// Command metrics
	commandsSent    uint64
	commandRetries  uint64
	commandTimeouts uint64

	// Codeplug metrics
	recordsRead      uint64
	transferBytes    uint64
	transferPercent  uint64
	writesCommitted  uint64
	writesAborted    uint64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// SessionOpened records a successfully authenticated session
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsOpened++
}

// SessionFailed records a session that failed to come up
func (c *Collector) SessionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsFailed++
}

// FrameSent records an outbound frame
func (c *Collector) FrameSent(bytes int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framesSent++
	c.bytesSent += uint64(bytes)
}

// FrameReceived records an inbound frame
func (c *Collector) FrameReceived(bytes int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framesReceived++
	c.bytesReceived += uint64(bytes)
}

// CommandSent records a dispatched command
func (c *Collector) CommandSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandsSent++
}

// CommandRetried records a command retry after a timeout
func (c *Collector) CommandRetried() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandRetries++
}

// CommandTimedOut records a command that exhausted its retries
func (c *Collector) CommandTimedOut() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandTimeouts++
}

// RecordRead records one record fetched from the radio
func (c *Collector) RecordRead() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordsRead++
}

// TransferProgress records write-transfer progress
func (c *Collector) TransferProgress(bytes int, percent byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transferBytes += uint64(bytes)
	c.transferPercent = uint64(percent)
}

// WriteCommitted records a completed codeplug write
func (c *Collector) WriteCommitted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writesCommitted++
}

// WriteAborted records a codeplug write that failed before commit
func (c *Collector) WriteAborted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writesAborted++
}

// Getters

// GetSessionsOpened returns the total number of authenticated sessions
func (c *Collector) GetSessionsOpened() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionsOpened
}

// GetSessionsFailed returns the total number of failed session attempts
func (c *Collector) GetSessionsFailed() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionsFailed
}

// GetFramesSent returns the total number of frames sent
func (c *Collector) GetFramesSent() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.framesSent
}

// GetFramesReceived returns the total number of frames received
func (c *Collector) GetFramesReceived() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.framesReceived
}

// GetBytesSent returns the total bytes sent
func (c *Collector) GetBytesSent() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesSent
}

// GetBytesReceived returns the total bytes received
func (c *Collector) GetBytesReceived() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesReceived
}

// GetCommandsSent returns the total number of dispatched commands
func (c *Collector) GetCommandsSent() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commandsSent
}

// GetCommandRetries returns the total number of command retries
func (c *Collector) GetCommandRetries() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commandRetries
}

// GetCommandTimeouts returns the total number of exhausted commands
func (c *Collector) GetCommandTimeouts() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commandTimeouts
}

// GetRecordsRead returns the total number of records read
func (c *Collector) GetRecordsRead() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recordsRead
}

// GetTransferBytes returns the total bytes transferred to the radio
func (c *Collector) GetTransferBytes() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transferBytes
}

// GetTransferPercent returns the most recent transfer percentage
func (c *Collector) GetTransferPercent() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transferPercent
}

// GetWritesCommitted returns the total number of committed writes
func (c *Collector) GetWritesCommitted() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writesCommitted
}

// GetWritesAborted returns the total number of aborted writes
func (c *Collector) GetWritesAborted() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writesAborted
}

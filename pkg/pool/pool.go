// Package pool provides object pooling for the storage engine's hottest
// allocation paths, to reduce GC pressure under heavy transaction
// throughput.
//
// Pooled objects:
//   - WAL frame byte buffers (one per Append call)
//   - Property-index ([]int) slices for SetVertexProperties/SetEdgeProperties callers
//
// Usage:
//
//	buf := pool.GetByteBuffer()
//	defer pool.PutByteBuffer(buf)
//	buf = append(buf, frame...)
package pool

import "sync"

// Config configures pooling behavior process-wide.
type Config struct {
	// Enabled controls whether pooling is active at all; when false,
	// every Get allocates fresh and every Put is a no-op.
	Enabled bool

	// MaxBufferSize is the largest byte slice capacity that will be
	// returned to the byte-buffer pool. Oversized buffers (e.g. a rare
	// checkpoint of an unusually large property blob) are dropped
	// instead of pinning that much memory in the pool indefinitely.
	MaxBufferSize int

	// MaxSliceLen is the analogous ceiling for []int slices.
	MaxSliceLen int
}

var globalConfig = Config{
	Enabled:       true,
	MaxBufferSize: 1 << 20, // 1MiB
	MaxSliceLen:   1024,
}

// Configure sets global pool configuration. Should be called once during
// GraphHandle startup, before any transactions run.
func Configure(cfg Config) {
	globalConfig = cfg
}

// IsEnabled returns whether pooling is currently active.
func IsEnabled() bool { return globalConfig.Enabled }

// =============================================================================
// Byte Buffer Pool (WAL frames)
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any { return make([]byte, 0, 1024) },
}

// GetByteBuffer returns a zero-length byte buffer from the pool.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 1024)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns a byte buffer to the pool, unless it has grown
// past MaxBufferSize.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled {
		return
	}
	if cap(buf) > globalConfig.MaxBufferSize {
		return
	}
	byteBufferPool.Put(buf[:0]) //nolint:staticcheck // intentional zero-length reuse
}

// =============================================================================
// Int Slice Pool (SetVertexProperties / SetEdgeProperties index scratch)
// =============================================================================

var intSlicePool = sync.Pool{
	New: func() any { return make([]int, 0, 16) },
}

// GetIntSlice returns a zero-length []int, typically used to accumulate
// property indices before a SetVertexProperties/SetEdgeProperties call.
func GetIntSlice() []int {
	if !globalConfig.Enabled {
		return make([]int, 0, 16)
	}
	return intSlicePool.Get().([]int)[:0]
}

// PutIntSlice returns an []int to the pool, unless it has grown past
// MaxSliceLen.
func PutIntSlice(s []int) {
	if !globalConfig.Enabled {
		return
	}
	if cap(s) > globalConfig.MaxSliceLen {
		return
	}
	intSlicePool.Put(s[:0])
}

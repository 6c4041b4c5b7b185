// Package bufpool provides a tiered buffer pool for transfer I/O.
//
// Chunked uploads and local copies read content through fixed-size byte
// slices; allocating a fresh slice per file churns the garbage collector
// when many transfers run back to back. The pool keeps three size tiers:
//
//   - Small buffers (4KB): state blobs and resume tokens
//   - Medium buffers (64KB): local copy loops
//   - Large buffers (4MB): transfer chunks at the default chunk size
//
// Requests larger than the large tier are allocated directly and never
// pooled, so an unusually large chunk size does not pin memory after the
// transfer finishes.
//
// All operations are safe for concurrent use.
package bufpool

import (
	"sync"
)

// Default buffer size classes. These can be overridden with NewPool.
const (
	DefaultSmallSize  = 4 << 10
	DefaultMediumSize = 64 << 10
	DefaultLargeSize  = 4 << 20
)

// Pool manages byte slice pools organized by size class. It selects the
// smallest class that fits a request and falls back to direct allocation
// for oversized requests.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds size classes for a custom buffer pool.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a buffer pool with the given configuration. A nil config
// uses the defaults; zero fields are filled in from the defaults.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.medium = sync.Pool{
		New: func() any {
			buf := make([]byte, p.mediumSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice with length size. The slice capacity may exceed
// size to align with pool size classes.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		// Oversized requests bypass the pool.
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool. The buffer must have been obtained
// from Get and must not be used afterwards. Buffers that do not match a
// size class are dropped and garbage collected normally.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.mediumSize:
		fullBuf := buf[:cap(buf)]
		p.medium.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	}
}

// globalPool is the package-level pool with default configuration.
var globalPool = NewPool(nil)

// Get returns a byte slice of length size from the global pool.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// Package compute runs data-parallel kernels over fixed-size workgroups on a
// persistent worker pool. Each Dispatch is one pipeline phase: it returns only
// after every workgroup has finished, so writes made in one phase are visible
// to every workgroup of the next.
package compute

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrDispatch marks an unrecoverable kernel failure.
var ErrDispatch = errors.New("kernel dispatch failed")

// parallelThreshold is the minimum item count to hand work to the pool.
// Below this, running inline is faster than waking the workers.
const parallelThreshold = 64

// Kernel processes items [lo, hi) of workgroup group. A kernel must only write
// slots it owns by index arithmetic; the pool provides no locking.
type Kernel func(group, lo, hi int)

// workChunk is a contiguous run of workgroups handed to one worker.
type workChunk struct {
	kernel    Kernel
	n         int
	groupSize int
	gLo, gHi  int
}

// Pool holds persistent worker goroutines.
type Pool struct {
	numWorkers int

	workChan chan workChunk // sends work to workers
	doneChan chan error     // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
}

// NewPool creates a pool. numWorkers <= 0 uses GOMAXPROCS.
// Workers start lazily on the first parallel dispatch.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: numWorkers}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.numWorkers
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan error, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop signals all workers to exit and waits for them.
func (p *Pool) Stop() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.doneChan <- runChunk(chunk)
		}
	}
}

// Groups returns the number of workgroups needed to cover n items.
func Groups(n, groupSize int) int {
	if n <= 0 {
		return 0
	}
	if groupSize <= 0 {
		return 1
	}
	return (n + groupSize - 1) / groupSize
}

// Dispatch runs k over [0, n) split into workgroups of groupSize items and
// blocks until all of them are done. A panic inside a kernel abandons the rest
// of that worker's chunk and is returned as an error wrapping ErrDispatch once
// the other workers have finished.
// Dispatch is not safe for concurrent use.
func (p *Pool) Dispatch(n, groupSize int, k Kernel) error {
	groups := Groups(n, groupSize)
	if groups == 0 {
		return nil
	}
	if groupSize <= 0 {
		groupSize = n
	}

	// Single-threaded for small phases
	if groups == 1 || n < parallelThreshold || p.numWorkers == 1 {
		return runChunk(workChunk{kernel: k, n: n, groupSize: groupSize, gLo: 0, gHi: groups})
	}

	if !p.running {
		p.Start()
	}

	numWorkers := p.numWorkers
	if numWorkers > groups {
		numWorkers = groups
	}
	perWorker := (groups + numWorkers - 1) / numWorkers

	chunksDispatched := 0
	for w := 0; w < numWorkers; w++ {
		gLo := w * perWorker
		gHi := gLo + perWorker
		if gHi > groups {
			gHi = groups
		}
		if gLo >= gHi {
			continue
		}

		p.workChan <- workChunk{kernel: k, n: n, groupSize: groupSize, gLo: gLo, gHi: gHi}
		chunksDispatched++
	}

	// Barrier
	var firstErr error
	for i := 0; i < chunksDispatched; i++ {
		if err := <-p.doneChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func runChunk(c workChunk) (err error) {
	g := c.gLo
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: workgroup %d: %v", ErrDispatch, g, r)
		}
	}()

	for ; g < c.gHi; g++ {
		lo := g * c.groupSize
		hi := lo + c.groupSize
		if hi > c.n {
			hi = c.n
		}
		c.kernel(g, lo, hi)
	}
	return nil
}

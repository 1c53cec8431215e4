// Package reclaim delays the destruction of GPU resources until no frame in
// flight can still reference them.
package reclaim

import (
	"fmt"

	"github.com/spaghettifunk/vulture/engine/containers"
	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

const initialCapacity = 16

// Queue owns resources that were logically destroyed by the application.
// Every trashed resource survives framesInFlight calls to Tick and is
// destroyed by the following one.
//
// Queue is not safe for concurrent use; callers trashing from several
// goroutines must serialize access themselves.
type Queue struct {
	dev            device.Destroyer
	framesInFlight uint32
	initialized    bool

	pipelines      *containers.CountdownList[device.Pipeline]
	descriptorSets *containers.CountdownList[device.DescriptorSet]
	images         *containers.CountdownList[device.Image]
	buffers        *containers.CountdownList[device.Buffer]
	structures     *containers.CountdownList[device.AccelerationStructure]

	destroyed uint64
}

func New(dev device.Destroyer) *Queue {
	return &Queue{
		dev:            dev,
		pipelines:      containers.NewCountdownList[device.Pipeline](initialCapacity),
		descriptorSets: containers.NewCountdownList[device.DescriptorSet](initialCapacity),
		images:         containers.NewCountdownList[device.Image](initialCapacity),
		buffers:        containers.NewCountdownList[device.Buffer](initialCapacity),
		structures:     containers.NewCountdownList[device.AccelerationStructure](initialCapacity),
	}
}

// Init sets the number of frames a trashed resource is kept alive. It must be
// called once before any Trash or Tick call.
func (q *Queue) Init(framesInFlight uint32) {
	core.Assert(!q.initialized || q.Len() == 0,
		"reclaim queue re-initialized with %d pending resources, drain it first", q.Len())
	q.framesInFlight = framesInFlight
	q.initialized = true
	core.LogDebug("reclaim queue initialized with %d frames in flight", framesInFlight)
}

func (q *Queue) FramesInFlight() uint32 {
	return q.framesInFlight
}

func (q *Queue) mustBeInitialized() {
	core.Assert(q.initialized, "reclaim queue used before Init: %s", core.ErrNotInitialized)
}

// Trash hands r over to the queue. The caller must not use r afterwards.
func (q *Queue) Trash(r Resource) {
	q.mustBeInitialized()
	if r == nil {
		return
	}
	switch res := r.(type) {
	case device.AccelerationStructure:
		q.TrashAccelerationStructure(res)
	case device.Buffer:
		q.TrashBuffer(res)
	case device.Image:
		q.TrashImage(res)
	case device.Pipeline:
		q.TrashPipeline(res)
	case device.DescriptorSet:
		q.TrashDescriptorSet(res)
	default:
		core.Assert(false, "reclaim queue cannot destroy %T (%s)", r, r.Label())
	}
}

func (q *Queue) TrashPipeline(p device.Pipeline) {
	q.mustBeInitialized()
	if p == nil {
		return
	}
	q.pipelines.Push(p, q.framesInFlight)
}

func (q *Queue) TrashDescriptorSet(s device.DescriptorSet) {
	q.mustBeInitialized()
	if s == nil {
		return
	}
	q.descriptorSets.Push(s, q.framesInFlight)
}

func (q *Queue) TrashImage(img device.Image) {
	q.mustBeInitialized()
	if img == nil {
		return
	}
	q.images.Push(img, q.framesInFlight)
}

func (q *Queue) TrashBuffer(b device.Buffer) {
	q.mustBeInitialized()
	if b == nil {
		return
	}
	q.buffers.Push(b, q.framesInFlight)
}

// TrashAccelerationStructure queues the structure and its backing buffer.
func (q *Queue) TrashAccelerationStructure(as device.AccelerationStructure) {
	q.mustBeInitialized()
	if as == nil {
		return
	}
	q.structures.Push(as, q.framesInFlight)
}

// Tick advances every entry by one frame and destroys the entries whose
// countdown already reached zero. Call it exactly once per frame boundary.
func (q *Queue) Tick() {
	q.mustBeInitialized()

	released := q.pipelines.Tick(func(p device.Pipeline) {
		q.dev.DestroyPipeline(p)
	})
	released += q.descriptorSets.Tick(func(s device.DescriptorSet) {
		q.dev.FreeDescriptorSet(s)
	})
	released += q.images.Tick(func(img device.Image) {
		q.dev.DestroyImage(img)
	})
	released += q.buffers.Tick(func(b device.Buffer) {
		pool := b.Pool()
		q.dev.DestroyBuffer(b)
		if pool != nil {
			q.dev.DestroyMemoryPool(pool)
		}
	})
	released += q.structures.Tick(func(as device.AccelerationStructure) {
		buffer := as.Buffer()
		q.dev.DestroyAccelerationStructure(as)
		if buffer != nil {
			q.dev.DestroyBuffer(buffer)
		}
	})

	if released > 0 {
		q.destroyed += uint64(released)
		core.LogDebug("reclaim queue destroyed %d resources, %d pending", released, q.Len())
	}
}

// Shutdown flushes the queue. The exact in-flight state is unknown at this
// point, so it waits for the device to go idle, ticks enough times for every
// entry to reach zero and be destroyed, then resets the queue to its
// uninitialized state. If the wait fails nothing is destroyed.
func (q *Queue) Shutdown() error {
	if !q.initialized {
		return nil
	}
	if q.Len() > 0 {
		if err := q.dev.WaitIdle(); err != nil {
			err = fmt.Errorf("reclaim queue drain with %d pending resources: %w", q.Len(), err)
			core.LogError(err.Error())
			return err
		}
	}
	for i := uint32(0); i < q.framesInFlight+1; i++ {
		q.Tick()
	}
	if n := q.Len(); n != 0 {
		err := fmt.Errorf("reclaim queue still holds %d resources after shutdown", n)
		core.LogError(err.Error())
	}
	q.framesInFlight = 0
	q.initialized = false
	return nil
}

// Reconfigure drains the queue and initializes it again with a new delay.
// On error the queue keeps its entries and its previous delay.
func (q *Queue) Reconfigure(framesInFlight uint32) error {
	if q.initialized && q.framesInFlight == framesInFlight {
		return nil
	}
	if err := q.Shutdown(); err != nil {
		return err
	}
	q.Init(framesInFlight)
	return nil
}

// Len returns the number of resources waiting for destruction.
func (q *Queue) Len() int {
	return q.pipelines.Len() + q.descriptorSets.Len() + q.images.Len() +
		q.buffers.Len() + q.structures.Len()
}

// Pending returns the number of resources of kind waiting for destruction.
func (q *Queue) Pending(kind Kind) int {
	switch kind {
	case KindPipeline:
		return q.pipelines.Len()
	case KindDescriptorSet:
		return q.descriptorSets.Len()
	case KindImage:
		return q.images.Len()
	case KindBuffer:
		return q.buffers.Len()
	case KindAccelerationStructure:
		return q.structures.Len()
	}
	return 0
}

// Destroyed returns how many resources the queue destroyed since creation.
func (q *Queue) Destroyed() uint64 {
	return q.destroyed
}

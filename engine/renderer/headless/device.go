// Package headless implements device.Device in software. Builds are not
// computed; the device tracks object lifetimes, memory use and recorded
// commands so that the code driving a real GPU can run and be checked
// without one.
package headless

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

const (
	addressBase      device.DeviceAddress = 0x10000
	addressAlignment device.DeviceAddress = 256
)

// SizeFunc returns the build sizes of a structure.
type SizeFunc func(info *device.BuildGeometryInfo, maxPrimitiveCounts []uint32) device.BuildSizes

// CompactedSizeFunc returns the size a built structure compacts to.
type CompactedSizeFunc func(label string, size device.DeviceSize) device.DeviceSize

// AllocationHook is called before every buffer allocation. A non-nil error
// fails the allocation.
type AllocationHook func(desc *device.BufferDescriptor) error

type deviceOptions struct {
	name          string
	memoryBudget  device.DeviceSize
	scratchAlign  device.DeviceSize
	sizeFunc      SizeFunc
	compactedFunc CompactedSizeFunc
	allocHook     AllocationHook
}

type Option func(*deviceOptions)

func WithName(name string) Option {
	return func(o *deviceOptions) { o.name = name }
}

// WithMemoryBudget fails allocations once the live buffer bytes would exceed
// budget.
func WithMemoryBudget(budget device.DeviceSize) Option {
	return func(o *deviceOptions) { o.memoryBudget = budget }
}

func WithScratchAlignment(alignment device.DeviceSize) Option {
	return func(o *deviceOptions) { o.scratchAlign = alignment }
}

func WithSizeFunc(fn SizeFunc) Option {
	return func(o *deviceOptions) { o.sizeFunc = fn }
}

func WithCompactedSizeFunc(fn CompactedSizeFunc) Option {
	return func(o *deviceOptions) { o.compactedFunc = fn }
}

func WithAllocationHook(fn AllocationHook) Option {
	return func(o *deviceOptions) { o.allocHook = fn }
}

// DefaultSizes grows linearly with the primitive count.
func DefaultSizes(info *device.BuildGeometryInfo, maxPrimitiveCounts []uint32) device.BuildSizes {
	var primitives uint64
	for _, c := range maxPrimitiveCounts {
		primitives += uint64(c)
	}
	return device.BuildSizes{
		AccelerationStructureSize: device.DeviceSize(256 + 128*primitives),
		BuildScratchSize:          device.DeviceSize(128 + 64*primitives),
		UpdateScratchSize:         device.DeviceSize(64 + 32*primitives),
	}
}

// DefaultCompactedSize halves a structure, never going below 256 bytes.
func DefaultCompactedSize(label string, size device.DeviceSize) device.DeviceSize {
	return min(size, max(size/2, 256))
}

// Device is a software device. It is safe for concurrent use.
type Device struct {
	mu   sync.Mutex
	opts deviceOptions

	nextID      uint64
	nextAddress device.DeviceAddress

	live      map[uint64]string
	addresses map[device.DeviceAddress]*buffer
	allocated device.DeviceSize
	peak      device.DeviceSize

	commands    []Command
	submissions int
	waitIdles   int
	destroyed   int
}

var _ device.Device = (*Device)(nil)

func New(opts ...Option) *Device {
	o := deviceOptions{
		name:          "headless-" + uuid.NewString()[:8],
		scratchAlign:  128,
		sizeFunc:      DefaultSizes,
		compactedFunc: DefaultCompactedSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	core.LogDebug("headless device %s created", o.name)
	return &Device{
		opts:        o,
		nextAddress: addressBase,
		live:        make(map[uint64]string),
		addresses:   make(map[device.DeviceAddress]*buffer),
	}
}

func (d *Device) Name() string {
	return d.opts.name
}

func (d *Device) Properties() device.Properties {
	return device.Properties{MinScratchOffsetAlignment: d.opts.scratchAlign}
}

func (d *Device) track(prefix, label string) (uint64, string) {
	d.nextID++
	if label == "" {
		label = fmt.Sprintf("%s-%d", prefix, d.nextID)
	}
	d.live[d.nextID] = label
	return d.nextID, label
}

func (d *Device) untrack(id uint64, label string) {
	_, ok := d.live[id]
	core.Assert(ok, "headless: %s destroyed twice or never created", label)
	delete(d.live, id)
	d.destroyed++
}

func (d *Device) allocateAddress(size, alignment device.DeviceSize) device.DeviceAddress {
	addr := d.nextAddress
	if alignment > 0 {
		addr = math.AlignUp(addr, device.DeviceAddress(alignment))
	}
	d.nextAddress = addr + math.AlignUp(device.DeviceAddress(max(size, 1)), addressAlignment)
	return addr
}

func (d *Device) CreateBuffer(desc *device.BufferDescriptor) (device.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opts.allocHook != nil {
		if err := d.opts.allocHook(desc); err != nil {
			err = fmt.Errorf("headless: creating buffer %q: %w", desc.Label, err)
			core.LogError(err.Error())
			return nil, err
		}
	}
	if d.opts.memoryBudget > 0 && d.allocated+desc.Size > d.opts.memoryBudget {
		err := fmt.Errorf("headless: creating buffer %q of %d bytes with %d of %d in use: %w",
			desc.Label, desc.Size, d.allocated, d.opts.memoryBudget, core.ErrOutOfDeviceMemory)
		core.LogError(err.Error())
		return nil, err
	}

	b := &buffer{
		size:   desc.Size,
		usage:  desc.Usage,
		memory: desc.Memory,
	}
	b.id, b.label = d.track("buffer", desc.Label)
	if desc.Usage&device.BufferUsageShaderDeviceAddress != 0 {
		b.address = d.allocateAddress(desc.Size, desc.Alignment)
		d.addresses[b.address] = b
	}
	d.allocated += desc.Size
	d.peak = max(d.peak, d.allocated)
	return b, nil
}

// CreatePooledBuffer creates a buffer backed by its own memory pool.
func (d *Device) CreatePooledBuffer(desc *device.BufferDescriptor) (device.Buffer, error) {
	b, err := d.CreateBuffer(desc)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &memoryPool{}
	p.id, p.label = d.track("pool", desc.Label+"-pool")
	b.(*buffer).pool = p
	return b, nil
}

func (d *Device) DestroyBuffer(b device.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := b.(*buffer)
	d.untrack(buf.id, buf.label)
	if buf.address != 0 {
		delete(d.addresses, buf.address)
	}
	d.allocated -= buf.size
	buf.data = nil
}

func (d *Device) DestroyMemoryPool(p device.MemoryPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool := p.(*memoryPool)
	d.untrack(pool.id, pool.label)
}

func (d *Device) WriteBuffer(b device.Buffer, offset device.DeviceSize, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := b.(*buffer)
	if buf.memory != device.MemoryHostVisible {
		err := fmt.Errorf("headless: buffer %s is not host visible", buf.label)
		core.LogError(err.Error())
		return err
	}
	if offset+device.DeviceSize(len(data)) > buf.size {
		err := fmt.Errorf("headless: writing %d bytes at %d overflows buffer %s of %d bytes",
			len(data), offset, buf.label, buf.size)
		core.LogError(err.Error())
		return err
	}
	copy(buf.bytes()[offset:], data)
	return nil
}

// CreateImage creates an image with the given number of views.
func (d *Device) CreateImage(label string, views int) device.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := &image{views: views}
	img.id, img.label = d.track("image", label)
	return img
}

func (d *Device) DestroyImage(img device.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := img.(*image)
	d.untrack(i.id, i.label)
}

func (d *Device) CreatePipeline(label string, bindPoint device.PipelineBindPoint) device.Pipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pipeline{bindPoint: bindPoint}
	p.id, p.label = d.track("pipeline", label)
	return p
}

func (d *Device) DestroyPipeline(p device.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl := p.(*pipeline)
	d.untrack(pl.id, pl.label)
}

func (d *Device) AllocateDescriptorSet(label string, set uint32) device.DescriptorSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &descriptorSet{set: set}
	s.id, s.label = d.track("descriptor-set", label)
	return s
}

func (d *Device) FreeDescriptorSet(s device.DescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ds := s.(*descriptorSet)
	d.untrack(ds.id, ds.label)
}

func (d *Device) GetAccelerationStructureBuildSizes(info *device.BuildGeometryInfo, maxPrimitiveCounts []uint32) device.BuildSizes {
	return d.opts.sizeFunc(info, maxPrimitiveCounts)
}

func (d *Device) CreateAccelerationStructure(desc *device.AccelerationStructureDescriptor) (device.AccelerationStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := desc.Buffer.(*buffer)
	if !ok || buf == nil {
		err := fmt.Errorf("headless: structure %q has no backing buffer", desc.Label)
		core.LogError(err.Error())
		return nil, err
	}
	if _, alive := d.live[buf.id]; !alive {
		err := fmt.Errorf("headless: structure %q backed by destroyed buffer %s", desc.Label, buf.label)
		core.LogError(err.Error())
		return nil, err
	}
	if desc.Size > buf.size {
		err := fmt.Errorf("headless: structure %q needs %d bytes, buffer %s holds %d",
			desc.Label, desc.Size, buf.label, buf.size)
		core.LogError(err.Error())
		return nil, err
	}

	as := &structure{
		kind:    desc.Type,
		buffer:  buf,
		size:    desc.Size,
		address: d.allocateAddress(desc.Size, 0),
	}
	as.id, as.label = d.track("structure", desc.Label)
	return as, nil
}

func (d *Device) DestroyAccelerationStructure(as device.AccelerationStructure) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := as.(*structure)
	_, bufferAlive := d.live[s.buffer.id]
	core.Assert(bufferAlive, "headless: buffer %s destroyed before structure %s", s.buffer.label, s.label)
	d.untrack(s.id, s.label)
}

func (d *Device) AccelerationStructureAddress(as device.AccelerationStructure) device.DeviceAddress {
	return as.(*structure).address
}

func (d *Device) CreateQueryPool(queryType device.QueryType, count uint32) (device.QueryPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	qp := &queryPool{
		queryType: queryType,
		results:   make([]uint64, count),
		available: make([]bool, count),
	}
	qp.id, _ = d.track("query-pool", "")
	return qp, nil
}

func (d *Device) DestroyQueryPool(qp device.QueryPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool := qp.(*queryPool)
	d.untrack(pool.id, fmt.Sprintf("query-pool-%d", pool.id))
}

func (d *Device) GetQueryPoolResults(qp device.QueryPool, first, count uint32) ([]uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pool := qp.(*queryPool)
	if first+count > pool.Count() {
		err := fmt.Errorf("headless: queries [%d, %d) out of range for pool of %d", first, first+count, pool.Count())
		core.LogError(err.Error())
		return nil, err
	}
	out := make([]uint64, count)
	for i := uint32(0); i < count; i++ {
		if !pool.available[first+i] {
			// a real device would block forever on this wait
			err := fmt.Errorf("headless: query %d was never written", first+i)
			core.LogError(err.Error())
			return nil, err
		}
		out[i] = pool.results[first+i]
	}
	return out, nil
}

func (d *Device) BeginSingleUse(queue device.QueueType) (device.CommandBuffer, error) {
	return &commandBuffer{dev: d, queue: queue}, nil
}

func (d *Device) EndSingleUse(cmd device.CommandBuffer) error {
	cb := cmd.(*commandBuffer)
	core.Assert(!cb.submitted, "headless: command buffer submitted twice")
	cb.submitted = true

	d.mu.Lock()
	defer d.mu.Unlock()

	d.submissions++
	for _, c := range cb.commands {
		c.Submission = d.submissions
		if err := d.execute(&c); err != nil {
			err = fmt.Errorf("headless: submission %d: %w", d.submissions, err)
			core.LogError(err.Error())
			return err
		}
		d.commands = append(d.commands, c)
	}
	return nil
}

// WaitIdle returns at once: submissions complete inside EndSingleUse.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdles++
	return nil
}

func (d *Device) WaitIdleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitIdles
}

// Commands returns every command executed so far, in submission order.
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, len(d.commands))
	copy(out, d.commands)
	return out
}

// ResetCommands clears the command log.
func (d *Device) ResetCommands() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = d.commands[:0]
}

func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// LiveObjects returns the sorted labels of every object not destroyed yet.
func (d *Device) LiveObjects() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.live))
	for _, l := range d.live {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (d *Device) LiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *Device) DestroyedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Allocated returns the bytes held by live buffers.
func (d *Device) Allocated() device.DeviceSize {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

func (d *Device) PeakAllocated() device.DeviceSize {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

// BufferData returns a copy of the bytes last written or copied into b.
func (d *Device) BufferData(b device.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := b.(*buffer)
	out := make([]byte, len(buf.data))
	copy(out, buf.data)
	return out
}

// StructurePrimitiveCount returns the primitive count of the last build of
// as.
func (d *Device) StructurePrimitiveCount(as device.AccelerationStructure) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return as.(*structure).primitiveCount
}

func (d *Device) IsBuilt(as device.AccelerationStructure) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return as.(*structure).built
}

package headless

import (
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

type buffer struct {
	id      uint64
	label   string
	size    device.DeviceSize
	usage   device.BufferUsage
	memory  device.MemoryLocation
	address device.DeviceAddress
	pool    *memoryPool
	// data is allocated on the first write or copy into the buffer
	data []byte
}

func (b *buffer) Label() string                       { return b.label }
func (b *buffer) Size() device.DeviceSize             { return b.size }
func (b *buffer) DeviceAddress() device.DeviceAddress { return b.address }

func (b *buffer) Pool() device.MemoryPool {
	if b.pool == nil {
		return nil
	}
	return b.pool
}

func (b *buffer) bytes() []byte {
	if b.data == nil {
		b.data = make([]byte, b.size)
	}
	return b.data
}

type memoryPool struct {
	id    uint64
	label string
}

func (p *memoryPool) Label() string { return p.label }

type image struct {
	id    uint64
	label string
	views int
}

func (i *image) Label() string  { return i.label }
func (i *image) ViewCount() int { return i.views }

type pipeline struct {
	id        uint64
	label     string
	bindPoint device.PipelineBindPoint
}

func (p *pipeline) Label() string                       { return p.label }
func (p *pipeline) BindPoint() device.PipelineBindPoint { return p.bindPoint }

type descriptorSet struct {
	id    uint64
	label string
	set   uint32
}

func (s *descriptorSet) Label() string    { return s.label }
func (s *descriptorSet) SetIndex() uint32 { return s.set }

type structure struct {
	id      uint64
	label   string
	kind    device.AccelerationStructureType
	buffer  *buffer
	size    device.DeviceSize
	address device.DeviceAddress

	built          bool
	flags          device.BuildFlags
	primitiveCount uint32
	compactedSize  device.DeviceSize
}

func (a *structure) Label() string                          { return a.label }
func (a *structure) Type() device.AccelerationStructureType { return a.kind }
func (a *structure) Buffer() device.Buffer                  { return a.buffer }

type queryPool struct {
	id        uint64
	queryType device.QueryType
	results   []uint64
	available []bool
}

func (qp *queryPool) Count() uint32 { return uint32(len(qp.results)) }

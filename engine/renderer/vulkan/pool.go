package vulkan

import (
	"sort"
	"sync"
)

type LockGroup string

const (
	ResourceManagement      LockGroup = "resource_management"
	CommandBufferManagement LockGroup = "command_buffer_management"
	MemoryManagement        LockGroup = "memory_management"
	QueryManagement         LockGroup = "query_management"
)

// VulkanLockPool serializes externally synchronized Vulkan calls: command
// pools, queues and memory mapping.
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to the locks map

	queueMutexes map[uint32]*sync.Mutex // Queue family index as key
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	if _, exists := vs.locks[group]; !exists {
		vs.locks[group] = &sync.Mutex{}
	}
	l := vs.locks[group]
	vs.mu.Unlock()

	l.Lock()
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	defer l.Unlock()

	return fn()
}

func (vs *VulkanLockPool) SetQueueFamily(index uint32) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.queueMutexes[index]; !exists {
		vs.queueMutexes[index] = &sync.Mutex{}
	}
}

func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	vs.mu.Lock()
	l, ok := vs.queueMutexes[queueFamilyIndex]
	if !ok {
		l = &sync.Mutex{}
		vs.queueMutexes[queueFamilyIndex] = l
	}
	vs.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}

// SafeAllQueuesCall runs fn while holding the lock of every registered queue
// family, taken in family order.
func (vs *VulkanLockPool) SafeAllQueuesCall(fn func() error) error {
	vs.mu.Lock()
	families := make([]uint32, 0, len(vs.queueMutexes))
	for index := range vs.queueMutexes {
		families = append(families, index)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	held := make([]*sync.Mutex, len(families))
	for i, index := range families {
		held[i] = vs.queueMutexes[index]
	}
	vs.mu.Unlock()

	for _, l := range held {
		l.Lock()
	}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()
	return fn()
}

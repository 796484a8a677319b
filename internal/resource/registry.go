package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/r3e-network/reactive-streams/pkg/logger"
)

// dedupCache is the optional cross-process advisory layer an InstanceRegistry
// may be given (go-redis backed in production). It never gates correctness
// — this registry is always the source of truth for its own process — it
// only records which process currently owns a (resource, fingerprint) pair
// so a fleet's admin tooling can see where an instance actually lives.
type dedupCache interface {
	Claim(ctx context.Context, key, owner string) error
	Release(ctx context.Context, key string) error
}

// InstanceRegistry tracks live resource instances, deduplicates by
// (resource name, parameter fingerprint), and owns their subscribers
// (spec §4.6).
type InstanceRegistry struct {
	mu            sync.RWMutex
	byID          map[string]*Instance
	byFingerprint map[string]string // "resource\x00fingerprint" -> instance id

	queueCapacity int
	idleTimeout   time.Duration
	log           *logger.Logger

	dedup   dedupCache
	ownerID string

	cronSched *cron.Cron
}

// RegistryConfig configures an InstanceRegistry.
type RegistryConfig struct {
	SubscriberQueueCapacity int
	IdleTimeout             time.Duration
	Logger                  *logger.Logger
}

// NewInstanceRegistry returns an empty registry.
func NewInstanceRegistry(cfg RegistryConfig) *InstanceRegistry {
	if cfg.SubscriberQueueCapacity <= 0 {
		cfg.SubscriberQueueCapacity = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("resource.registry")
	}
	return &InstanceRegistry{
		byID:          make(map[string]*Instance),
		byFingerprint: make(map[string]string),
		queueCapacity: cfg.SubscriberQueueCapacity,
		idleTimeout:   cfg.IdleTimeout,
		log:           cfg.Logger,
	}
}

// WithDedupCache attaches an optional cross-process advisory cache.
func (reg *InstanceRegistry) WithDedupCache(c dedupCache, ownerID string) *InstanceRegistry {
	reg.dedup = c
	reg.ownerID = ownerID
	return reg
}

func fingerprintKey(resourceName string, params Params) string {
	return resourceName + "\x00" + Fingerprint(params)
}

// FindExisting returns an existing instance id for (resourceName, params),
// if present.
func (reg *InstanceRegistry) FindExisting(resourceName string, params Params) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	id, ok := reg.byFingerprint[fingerprintKey(resourceName, params)]
	return id, ok
}

// Create returns the existing instance for (resourceName, params) with
// reused=true, or mints a fresh one backed by leaf with reused=false
// (spec §4.6 "create").
func (reg *InstanceRegistry) Create(resourceName string, params Params, leaf Leaf) (*Instance, bool) {
	key := fingerprintKey(resourceName, params)

	reg.mu.Lock()
	if id, ok := reg.byFingerprint[key]; ok {
		inst := reg.byID[id]
		reg.mu.Unlock()
		inst.touch()
		return inst, true
	}

	id := uuid.NewString()
	inst := newInstance(id, resourceName, params, leaf)
	reg.byID[id] = inst
	reg.byFingerprint[key] = id
	reg.mu.Unlock()

	if reg.dedup != nil {
		_ = reg.dedup.Claim(context.Background(), key, reg.ownerID)
	}
	reg.log.WithField("instance_id", id).WithField("resource", resourceName).Info("resource instance created")
	return inst, false
}

// Get returns the instance and updates its last-accessed timestamp.
func (reg *InstanceRegistry) Get(id string) (*Instance, bool) {
	reg.mu.RLock()
	inst, ok := reg.byID[id]
	reg.mu.RUnlock()
	if ok {
		inst.touch()
	}
	return inst, ok
}

// Subscribe registers a new bounded-queue subscriber against instance id,
// immediately enqueuing an init snapshot, and installs a change callback
// that enqueues update events for the lifetime of the instance (spec §4.6
// "subscribe").
func (reg *InstanceRegistry) Subscribe(id string) (*Subscriber, error) {
	inst, ok := reg.Get(id)
	if !ok {
		return nil, ErrUnknownInstance
	}

	sub := NewSubscriber(id, reg.queueCapacity, reg.log)
	inst.addSubscriber(sub)
	sub.enqueue(Event{Type: EventInit, Init: inst.Leaf.Snapshot()})

	if inst.unsubLeaf == nil {
		inst.unsubLeaf = inst.Leaf.Subscribe(func(changes []ChangeEvent) {
			for _, s := range inst.subscriberSnapshot() {
				if s.Evicted() {
					inst.removeSubscriber(s)
					continue
				}
				s.enqueue(Event{Type: EventUpdate, Update: changes})
			}
		})
	}

	return sub, nil
}

// Unsubscribe removes sub from its instance's subscriber set. Safe to call
// more than once.
func (reg *InstanceRegistry) Unsubscribe(id string, sub *Subscriber) {
	if inst, ok := reg.Get(id); ok {
		inst.removeSubscriber(sub)
	}
}

// Destroy removes the instance, notifies every subscriber with a terminal
// close event, and drops the subscriber set (spec §4.6 "destroy").
func (reg *InstanceRegistry) Destroy(id string) error {
	reg.mu.Lock()
	inst, ok := reg.byID[id]
	if !ok {
		reg.mu.Unlock()
		return ErrUnknownInstance
	}
	delete(reg.byID, id)
	delete(reg.byFingerprint, fingerprintKey(inst.ResourceName, inst.Params))
	reg.mu.Unlock()

	for _, s := range inst.subscriberSnapshot() {
		s.enqueue(Event{Type: EventClose, Reason: "instance destroyed"})
	}
	inst.mu.Lock()
	inst.subscribers = make(map[*Subscriber]struct{})
	unsub := inst.unsubLeaf
	inst.unsubLeaf = nil
	inst.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if reg.dedup != nil {
		_ = reg.dedup.Release(context.Background(), fingerprintKey(inst.ResourceName, inst.Params))
	}
	reg.log.WithField("instance_id", id).Info("resource instance destroyed")
	return nil
}

// DestroyAll destroys every live instance, used on service shutdown
// (spec §5 "A service-level shutdown destroys all instances").
func (reg *InstanceRegistry) DestroyAll() {
	reg.mu.RLock()
	ids := make([]string, 0, len(reg.byID))
	for id := range reg.byID {
		ids = append(ids, id)
	}
	reg.mu.RUnlock()
	for _, id := range ids {
		_ = reg.Destroy(id)
	}
}

// Len reports the number of live instances.
func (reg *InstanceRegistry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.byID)
}

// StartIdleSweep starts an optional periodic sweeper (spec §4.6 "idle
// instance reclamation is optional") that destroys instances whose
// last-accessed instant is older than idleTimeout. schedule is a
// robfig/cron expression (e.g. "@every 1m").
func (reg *InstanceRegistry) StartIdleSweep(schedule string) error {
	if reg.idleTimeout <= 0 {
		return fmt.Errorf("resource: idle sweep requires a positive idle timeout")
	}
	reg.cronSched = cron.New()
	_, err := reg.cronSched.AddFunc(schedule, reg.sweepIdle)
	if err != nil {
		return fmt.Errorf("resource: schedule idle sweep: %w", err)
	}
	reg.cronSched.Start()
	return nil
}

// StopIdleSweep stops the sweeper, if running.
func (reg *InstanceRegistry) StopIdleSweep() {
	if reg.cronSched != nil {
		ctx := reg.cronSched.Stop()
		<-ctx.Done()
	}
}

func (reg *InstanceRegistry) sweepIdle() {
	cutoff := time.Now().UTC().Add(-reg.idleTimeout)

	reg.mu.RLock()
	var stale []string
	for id, inst := range reg.byID {
		if inst.LastAccessed().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	reg.mu.RUnlock()

	for _, id := range stale {
		reg.log.WithField("instance_id", id).Info("idle sweep destroying instance")
		_ = reg.Destroy(id)
	}
}

// Package outbox is the public façade over the transactional outbox
// engine: Schedule writes a record inside the caller's own transaction,
// RegisterHandler/RegisterFallback build up the handler registry, and
// Start/Stop own the instance, partition and scheduler lifecycles
// (spec.md §4.1, component 14).
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outboxware/outbox/internal/chain"
	"github.com/outboxware/outbox/internal/config"
	"github.com/outboxware/outbox/internal/errtax"
	"github.com/outboxware/outbox/internal/fallback"
	"github.com/outboxware/outbox/internal/handler"
	"github.com/outboxware/outbox/internal/health"
	"github.com/outboxware/outbox/internal/instance"
	"github.com/outboxware/outbox/internal/invoker"
	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/partition"
	"github.com/outboxware/outbox/internal/platform/clock"
	"github.com/outboxware/outbox/internal/platform/hashing"
	"github.com/outboxware/outbox/internal/retry"
	"github.com/outboxware/outbox/internal/scheduler"
	"github.com/outboxware/outbox/internal/store"
)

// Codec serializes and deserializes payloads for storage. JSONCodec is the
// default; callers may supply their own (e.g. protobuf) via Options.Codec.
type Codec interface {
	Encode(recordType string, payload any) ([]byte, error)
	chain.Codec
}

// JSONCodec is the default Codec, using encoding/json.
type JSONCodec struct{}

// Encode marshals payload to JSON. recordType is unused; JSON is
// self-describing at the byte level.
func (JSONCodec) Encode(recordType string, payload any) ([]byte, error) {
	return json.Marshal(payload)
}

// Decode unmarshals payload into a map[string]any, since the concrete Go
// type isn't recoverable from recordType alone. Handlers that need a
// concrete type need a Codec of their own, supplied via Options.Codec.
func (JSONCodec) Decode(recordType string, payload []byte) (any, error) {
	var v map[string]any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ContextProvider contributes entries merged into every scheduled
// record's context (spec.md §4.1 step 4, §4.5's context propagation).
type ContextProvider func() map[string]string

// KeyExtractor derives a grouping key from a payload when the caller does
// not supply one explicitly (spec.md §4.1 step 2).
type KeyExtractor func(payload any) string

// ScheduleOptions customizes one Schedule call. All fields are optional.
type ScheduleOptions struct {
	Key        string
	RecordType string
	HandlerID  string
	Context    map[string]string
}

// Options configures an Engine at construction time.
type Options struct {
	Codec            Codec
	Clock            clock.Clock
	Log              zerolog.Logger
	DefaultRetry     retry.Policy
	Port             int
	ContextProviders []ContextProvider
	KeyExtractors    map[string]KeyExtractor
}

// Engine wires together the handler/retry registries, the processor
// chain, the instance registry, the partition coordinator and the
// processing scheduler into one runnable unit.
type Engine struct {
	cfg        *config.Config
	records    store.RecordStore
	handlers   *handler.Registry
	retries    *retry.Registry
	codec      Codec
	clock      clock.Clock
	log        zerolog.Logger

	instanceRegistry *instance.Registry
	coordinator      *partition.Coordinator
	processingChain  *chain.Chain
	proc             *scheduler.Scheduler

	contextProviders []ContextProvider
	keyExtractors    map[string]KeyExtractor

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine from cfg and the three store interfaces, which the
// caller obtains from internal/store/postgres or internal/store/sqlite
// (spec.md §6 "Drivers are substitutable").
func New(cfg *config.Config, records store.RecordStore, instances store.InstanceStore, partitions store.PartitionStore, opts Options) (*Engine, error) {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if reflect.ValueOf(opts.Log).IsZero() {
		opts.Log = zerolog.Nop()
	}
	if opts.KeyExtractors == nil {
		opts.KeyExtractors = map[string]KeyExtractor{}
	}

	defaultPolicy, err := resolveDefaultPolicy(cfg)
	if err != nil {
		return nil, err
	}
	if opts.DefaultRetry != nil {
		defaultPolicy = opts.DefaultRetry
	}

	handlers := handler.New()
	retries := retry.NewRegistry(defaultPolicy)
	inv := invoker.New(opts.Log)
	fb := fallback.New()

	procChain := chain.New(records, handlers, retries, inv, fb, opts.Codec, opts.Clock, cfg.DeleteCompletedRecords, opts.Log)

	instReg := instance.New(instances, opts.Clock, opts.Port, opts.Log)
	coord := partition.New(partitions, instReg, opts.Clock, instReg.InstanceID(), opts.Log)

	trigger := buildTrigger(cfg)
	proc := scheduler.New(records, coord, procChain, opts.Clock, trigger, cfg.BatchSize, cfg.ConcurrencyWorkerLimit,
		cfg.IgnoreRecordKeysWithPreviousFailure, cfg.StopOnKeyFailure, opts.Log)

	return &Engine{
		cfg:              cfg,
		records:          records,
		handlers:         handlers,
		retries:          retries,
		codec:            opts.Codec,
		clock:            opts.Clock,
		log:              opts.Log,
		instanceRegistry: instReg,
		coordinator:      coord,
		processingChain:  procChain,
		proc:             proc,
		contextProviders: opts.ContextProviders,
		keyExtractors:    opts.KeyExtractors,
	}, nil
}

func resolveDefaultPolicy(cfg *config.Config) (retry.Policy, error) {
	switch cfg.RetryDefaultPolicy {
	case config.RetryFixed:
		return retry.Fixed{Delay: cfg.RetryInitialDelay, Attempts: cfg.RetryMaxAttempts}, nil
	case config.RetryExponential:
		return retry.Exponential{Initial: cfg.RetryInitialDelay, Max: cfg.RetryMaxDelay, Multiplier: cfg.RetryMultiplier, Attempts: cfg.RetryMaxAttempts}, nil
	case config.RetryJittered:
		base := retry.Exponential{Initial: cfg.RetryInitialDelay, Max: cfg.RetryMaxDelay, Multiplier: cfg.RetryMultiplier, Attempts: cfg.RetryMaxAttempts}
		return retry.NewJittered(base, cfg.RetryJitter), nil
	default:
		return nil, fmt.Errorf("unsupported default retry policy: %s", cfg.RetryDefaultPolicy)
	}
}

func buildTrigger(cfg *config.Config) scheduler.Trigger {
	switch cfg.PollTrigger {
	case config.TriggerFixed:
		return scheduler.FixedTrigger{Delay: cfg.FixedInterval}
	default:
		return scheduler.NewAdaptiveTrigger(cfg.AdaptiveMinInterval, cfg.AdaptiveMaxInterval, cfg.BatchSize)
	}
}

// InstanceHealthPinger exposes this engine's instance registry as a
// health.HealthPinger, so cmd/outboxd can aggregate it alongside a raw
// store pinger in one health.ServiceHealthChecker.
func (e *Engine) InstanceHealthPinger() health.HealthPinger {
	return e.instanceRegistry
}

// RegisterHandler adds a handler to the registry. Safe to call before or
// after Start; registration is idempotent by HandlerID.
func (e *Engine) RegisterHandler(d handler.Descriptor) error {
	return e.handlers.Register(d)
}

// RegisterFallback attaches a fallback function to an already-registered
// handler.
func (e *Engine) RegisterFallback(handlerID string, fn handler.FallbackFunc) error {
	return e.handlers.RegisterFallback(handlerID, fn)
}

// OverrideRetryPolicy sets a per-handler retry policy, overriding the
// process-wide default (spec.md §4.3).
func (e *Engine) OverrideRetryPolicy(handlerID string, p retry.Policy) {
	e.retries.Override(handlerID, p)
}

// RegisterContextProvider adds a global context provider, merged into
// every Schedule call's context (spec.md §4.1 step 4).
func (e *Engine) RegisterContextProvider(p ContextProvider) {
	e.contextProviders = append(e.contextProviders, p)
}

// RegisterKeyExtractor registers a fallback key derivation function for
// recordType, used when a Schedule call omits an explicit key.
func (e *Engine) RegisterKeyExtractor(recordType string, extractor KeyExtractor) {
	e.keyExtractors[recordType] = extractor
}

// Schedule implements the schedule operation in spec.md §4.1. db is
// typically the caller's own *sql.Tx so the write commits atomically with
// the surrounding business transaction.
func (e *Engine) Schedule(ctx context.Context, db store.Execer, payload any, opts ScheduleOptions) error {
	handlerID := opts.HandlerID
	if handlerID == "" {
		d, err := e.handlers.ResolveByPayloadType(opts.RecordType)
		if err != nil {
			return errtax.New(errtax.KindNoMatchingHandler, err)
		}
		handlerID = d.HandlerID
	}

	key := opts.Key
	if key == "" {
		if extractor, ok := e.keyExtractors[opts.RecordType]; ok {
			key = extractor(payload)
		} else {
			key = uuid.New().String()
		}
	}

	mergedContext := map[string]string{}
	for _, provider := range e.contextProviders {
		for k, v := range provider() {
			mergedContext[k] = v
		}
	}
	for k, v := range opts.Context {
		mergedContext[k] = v
	}

	encoded, err := e.codec.Encode(opts.RecordType, payload)
	if err != nil {
		return errtax.New(errtax.KindSerialization, err)
	}

	now := e.clock.Now()
	rec := &model.OutboxRecord{
		ID:          uuid.New().String(),
		Key:         key,
		Partition:   hashing.Partition(key),
		HandlerID:   handlerID,
		RecordType:  opts.RecordType,
		Payload:     encoded,
		Status:      model.StatusNew,
		CreatedAt:   now,
		NextRetryAt: now,
		Context:     mergedContext,
	}
	return e.records.Create(ctx, db, rec)
}

// Start bootstraps the partition table, registers this instance, and
// launches the heartbeat, rebalance and processing scheduler loops in the
// background. It returns once the instance is registered and an initial
// rebalance has run.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.coordinator.Bootstrap(runCtx); err != nil {
		cancel()
		return fmt.Errorf("bootstrap partitions: %w", err)
	}
	if err := e.instanceRegistry.Register(runCtx); err != nil {
		cancel()
		return fmt.Errorf("register instance: %w", err)
	}
	if err := e.coordinator.Rebalance(runCtx); err != nil {
		cancel()
		return fmt.Errorf("initial rebalance: %w", err)
	}

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.instanceRegistry.RunHeartbeatLoop(runCtx, e.cfg.InstanceHeartbeatInterval, e.cfg.InstanceStaleTimeout)
	}()
	go func() {
		defer e.wg.Done()
		e.runRebalanceLoop(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.proc.Run(runCtx)
	}()

	return nil
}

// runRebalanceLoop signals a rebalance at RebalanceInterval and runs
// Coordinator.RunLoop to service both that periodic signal and any
// on-demand signals (spec.md §4.11 "runs periodically and on demand").
func (e *Engine) runRebalanceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RebalanceInterval)
	defer ticker.Stop()

	go e.coordinator.RunLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.coordinator.SignalRebalance()
		}
	}
}

// Stop cancels the background loops, waits for them to exit, and
// gracefully deregisters this instance (spec.md §4.10 "shutdown").
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	return e.instanceRegistry.Shutdown(ctx, e.cfg.InstanceGracefulShutdownTimeout)
}

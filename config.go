package workq

import (
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/tahsin716/workq/internal/osd"
)

// Flags are queue creation flags.
type Flags uint32

const (
	// FlagIO marks a queue whose items mostly block. On a single processor
	// it still gets one worker, and its workers are locked to OS threads.
	FlagIO Flags = 1 << iota

	// FlagMulti spawns one worker per spare processor and makes Wait drain
	// the queue on the calling goroutine instead of sleeping.
	FlagMulti
)

// ItemFlags are per-submission flags.
type ItemFlags uint32

const (
	// ItemAutoRelease returns items to the free-list as soon as their
	// callback completes. The submitter receives no handle.
	ItemAutoRelease ItemFlags = 1 << iota
)

const (
	// MaxWorkers bounds the number of workers per queue. It is also the
	// number of scalable lock slots.
	MaxWorkers = lockSlots

	// DefaultSpinWindow is how long an idle worker polls before sleeping.
	DefaultSpinWindow = time.Millisecond

	// DefaultMaxItems is the default arena capacity.
	DefaultMaxItems = 1 << 16

	// releaseTimeout bounds the wait performed by Release.
	releaseTimeout = 100 * time.Second
)

// Option configures a Queue.
type Option func(*Config)

// Config contains all configuration options for a queue
type Config struct {
	// Processors is the available parallelism used by the worker count
	// policy. If 0, osd.NumProcessors is consulted once at creation.
	Processors int

	// SpinWindow is how long a worker keeps polling for new items after the
	// pending list empties, before it sleeps on its wake event.
	// Defaults to 1ms
	SpinWindow time.Duration

	// MaxItems caps the number of items the queue will ever allocate.
	// Submissions beyond it fail with ErrAllocation.
	MaxItems int

	// PinWorkerThreads locks each worker goroutine to its own OS thread.
	// Always on for FlagIO queues.
	PinWorkerThreads bool

	// PanicHandler is called with the recovered value when a callback
	// panics. The item still completes, with a *PanicError result.
	PanicHandler func(interface{})

	// Logger receives lifecycle and failure logs. Defaults to logr.Discard().
	Logger logr.Logger

	// newEvent allocates wake and completion events; nil means failure.
	newEvent func(manual, signalled bool) *osd.Event
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		SpinWindow: DefaultSpinWindow,
		MaxItems:   DefaultMaxItems,
		Logger:     logr.Discard(),
		newEvent:   osd.NewEvent,
	}
}

// WithProcessors sets the available parallelism instead of detecting it.
func WithProcessors(n int) Option {
	return func(c *Config) { c.Processors = n }
}

// WithSpinWindow sets how long idle workers spin before sleeping.
func WithSpinWindow(d time.Duration) Option {
	return func(c *Config) { c.SpinWindow = d }
}

// WithMaxItems sets the arena capacity.
func WithMaxItems(n int) Option {
	return func(c *Config) { c.MaxItems = n }
}

// WithPinWorkerThreads locks workers to OS threads.
func WithPinWorkerThreads(pin bool) Option {
	return func(c *Config) { c.PinWorkerThreads = pin }
}

// WithPanicHandler sets the callback panic handler.
func WithPanicHandler(h func(interface{})) Option {
	return func(c *Config) { c.PanicHandler = h }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// validate checks the configuration and returns every problem found.
func (c *Config) validate() error {
	var err error
	if c.Processors < 0 {
		err = multierr.Append(err, errInvalidConfig("Processors must be >= 0"))
	}
	if c.SpinWindow < 0 {
		err = multierr.Append(err, errInvalidConfig("SpinWindow must be >= 0"))
	}
	if c.MaxItems <= 0 {
		err = multierr.Append(err, errInvalidConfig("MaxItems must be > 0"))
	}
	if c.MaxItems > maxArenaItems {
		err = multierr.Append(err, errInvalidConfig("MaxItems exceeds the arena limit"))
	}
	return err
}

// workerCount applies the worker count policy: on one processor, one worker
// for IO queues and none otherwise; on n processors, n-1 workers for multi
// queues and one otherwise; never more than MaxWorkers.
func workerCount(flags Flags, processors int) int {
	var n int
	if processors <= 1 {
		if flags&FlagIO != 0 {
			n = 1
		}
	} else if flags&FlagMulti != 0 {
		n = processors - 1
	} else {
		n = 1
	}
	return min(n, MaxWorkers)
}

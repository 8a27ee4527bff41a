package dialer

import (
	"log"
	"sync"
	"time"

	"aridialer/internal/ari"
	"aridialer/internal/call"
	"aridialer/internal/config"
	"aridialer/internal/database"
	"aridialer/internal/recording"
)

// Client is the slice of the ARI surface the engine drives.
type Client interface {
	Originate(req ari.OriginateRequest) (*ari.Channel, error)
	Answer(channelID string) error
	Hangup(channelID string) error
	CreateBridge(name string) (*ari.Bridge, error)
	AddChannel(bridgeID, channelID string) error
	DestroyBridge(bridgeID string) error
	recording.Commander
}

// Engine drives the dialing run: it owns the call store, consumes ARI
// events and serializes every mutation on a single goroutine. Timers and
// the control surface post work through Do, so no per-call locking is
// needed anywhere in the correlator.
type Engine struct {
	cfg    *config.Config
	client Client
	store  *call.Store
	rec    *recording.Manager
	writer *database.Writer

	events <-chan ari.Event
	tasks  chan func()

	// dialing state, touched only on the engine goroutine
	queue           []string
	inFlight        map[string]string // callID -> number
	depletionLogged bool

	now func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEngine wires an engine over the given ARI client and writer.
func NewEngine(cfg *config.Config, client Client, events <-chan ari.Event, writer *database.Writer) *Engine {
	e := &Engine{
		cfg:      cfg,
		client:   client,
		store:    call.NewStore(),
		writer:   writer,
		events:   events,
		tasks:    make(chan func(), 256),
		inFlight: make(map[string]string),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	e.rec = recording.NewManager(client, cfg.Recording, cfg.Verbose,
		func(d time.Duration, fn func()) { e.schedule(d, fn) })
	return e
}

// Store exposes the call store for read-only inspection.
func (e *Engine) Store() *call.Store { return e.store }

// Start loads the number queue and launches the event loop.
func (e *Engine) Start(numbers []string) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.queue = append([]string(nil), numbers...)
	e.depletionLogged = false

	e.wg.Add(1)
	go e.loop()
	e.Do(e.maybeOriginateNext)
	log.Printf("[Engine] Started with %d numbers queued, MAX_CC=%d", len(numbers), e.cfg.Dial.MaxConcurrent)
}

// Stop halts the loop. Active calls are left to the platform.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
}

// Running reports whether the loop is up.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Do posts a function onto the engine goroutine.
func (e *Engine) Do(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// schedule arms a timer whose function runs back on the engine loop.
func (e *Engine) schedule(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { e.Do(fn) })
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.tasks:
			fn()
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			e.handleEvent(ev)
		}
	}
}

// Stats is a point-in-time view of the dialing state for the control
// surface.
type Stats struct {
	Queued   int
	InFlight int
}

// CurrentStats asks the engine goroutine for its dialing state.
func (e *Engine) CurrentStats() Stats {
	reply := make(chan Stats, 1)
	e.Do(func() {
		reply <- Stats{Queued: len(e.queue), InFlight: len(e.inFlight)}
	})
	select {
	case s := <-reply:
		return s
	case <-time.After(2 * time.Second):
		return Stats{}
	case <-e.done:
		return Stats{}
	}
}

// Reload applies a re-read configuration and queues a fresh number list
// for a new run. Returns false when the previous run still has work
// outstanding; a rejected reload leaves the running configuration alone.
func (e *Engine) Reload(cfg *config.Config, numbers []string) bool {
	reply := make(chan bool, 1)
	e.Do(func() {
		if len(e.queue) > 0 || len(e.inFlight) > 0 {
			reply <- false
			return
		}
		e.cfg = cfg
		e.rec.Configure(cfg.Recording, cfg.Verbose)
		e.queue = append([]string(nil), numbers...)
		e.depletionLogged = false
		e.maybeOriginateNext()
		reply <- true
	})
	select {
	case ok := <-reply:
		return ok
	case <-e.done:
		return false
	}
}

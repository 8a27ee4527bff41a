package recording

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aridialer/internal/ari"
	"aridialer/internal/call"
	"aridialer/internal/config"
)

// Commander is the slice of the ARI surface the manager needs.
type Commander interface {
	RecordBridge(bridgeID string, req ari.RecordRequest) (*ari.LiveRecording, error)
	StopBridgeMedia(bridgeID string) error
	StopRecording(name string) error
}

// Scheduler defers a function. The engine supplies one that runs the
// function back on its own loop, keeping call mutations serialized.
type Scheduler func(d time.Duration, fn func())

// Retry delays for locating a recording on disk.
const (
	retryAfterFinished = 1 * time.Second
	retryGeneric       = 5 * time.Second
	retryAfterStop     = 10 * time.Second
	maxLocateAttempts  = 6
)

// ownership tracks who a started recording belongs to and the state of
// the locate/move retries.
type ownership struct {
	CallID   string
	Name     string
	Format   string
	Mode     string // "bridge"
	BridgeID string
	Stopped  bool
	Attempts int
}

// Manager owns bridge recordings: it starts them, stops them at cleanup
// and chases the file across the spool directories until it rests in the
// canonical recordings directory.
type Manager struct {
	client   Commander
	cfg      config.RecordingConfig
	verbose  bool
	schedule Scheduler

	owners map[string]*ownership // recording name -> owner
}

// NewManager creates a recording manager.
func NewManager(client Commander, cfg config.RecordingConfig, verbose bool, schedule Scheduler) *Manager {
	return &Manager{
		client:   client,
		cfg:      cfg,
		verbose:  verbose,
		schedule: schedule,
		owners:   make(map[string]*ownership),
	}
}

// Configure applies a re-read recording configuration. Called from the
// engine loop like every other entry point, so no locking is needed.
func (m *Manager) Configure(cfg config.RecordingConfig, verbose bool) {
	m.cfg = cfg
	m.verbose = verbose
}

// searchDirs are the directories a finished recording may land in,
// canonical directory first.
func (m *Manager) searchDirs() []string {
	return []string{
		m.cfg.Dir,
		"/var/spool/asterisk/recording",
		"/var/spool/asterisk/monitor",
	}
}

// RecordingName builds the recording name for a call: the call id plus
// an ISO timestamp with ':' and '.' flattened to '-'.
func RecordingName(callID string, now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return callID + "-" + ts
}

// Start begins the bridge recording for a call. At most one recording is
// ever started per call; repeat invocations are no-ops.
func (m *Manager) Start(c *call.Call, now time.Time) {
	if c.RecordingStarted || c.BridgeID == "" {
		return
	}
	c.RecordingStarted = true

	name := RecordingName(c.ID, now)
	format := m.cfg.Format

	_, err := m.client.RecordBridge(c.BridgeID, ari.RecordRequest{
		Name:               name,
		Format:             format,
		IfExists:           "overwrite",
		MaxDurationSeconds: 0,
		TerminateOn:        "none",
	})
	if err != nil {
		log.Printf("[Recording] Failed to start recording for call %s: %v", c.ID, err)
		return
	}

	c.RecordingName = name
	c.RecordingFormat = format
	c.RecordingMode = "bridge"
	c.RecordingPath = filepath.Join(m.cfg.Dir, name+"."+format)

	m.owners[name] = &ownership{
		CallID:   c.ID,
		Name:     name,
		Format:   format,
		Mode:     "bridge",
		BridgeID: c.BridgeID,
	}
	log.Printf("[Recording] Started %s.%s on bridge %s (call %s)", name, format, c.BridgeID, c.ID)
}

// owner returns the call id owning a recording name, "" when unknown.
func (m *Manager) owner(name string) string {
	if o, ok := m.owners[name]; ok {
		return o.CallID
	}
	return ""
}

// owned reports whether the manager still tracks the recording.
func (m *Manager) owned(name string) bool {
	_, ok := m.owners[name]
	return ok
}

// HandleFinished reacts to a RecordingFinished event: the file should be
// on disk shortly, so a locate runs after a short delay.
func (m *Manager) HandleFinished(name string) {
	o, ok := m.owners[name]
	if !ok {
		return
	}
	m.schedule(retryAfterFinished, func() { m.locate(o, retryAfterFinished) })
}

// StopAndCollect stops the recording for a call and starts chasing the
// file. Stop errors mentioning "not found" are expected when the
// recording already finished and are swallowed.
func (m *Manager) StopAndCollect(c *call.Call) {
	if c.RecordingName == "" {
		// Nothing on disk to chase; drop any stale ownership so the
		// call does not linger in the map.
		m.Forget(c.ID)
		return
	}
	o, ok := m.owners[c.RecordingName]
	if !ok {
		return
	}
	if !o.Stopped {
		o.Stopped = true
		var err error
		if o.Mode == "bridge" {
			err = m.client.StopBridgeMedia(o.BridgeID)
		} else {
			err = m.client.StopRecording(o.Name)
		}
		if err != nil && !strings.Contains(err.Error(), "not found") {
			log.Printf("[Recording] Stop error for %s: %v", o.Name, err)
		}
	}

	if !m.locateNow(o) {
		m.schedule(retryGeneric, func() { m.locate(o, retryGeneric) })
		m.schedule(retryAfterStop, func() { m.locate(o, retryAfterStop) })
	}
}

// Forget drops ownership for every recording of a call. Used when a call
// is torn down with nothing on disk to chase.
func (m *Manager) Forget(callID string) {
	for name, o := range m.owners {
		if o.CallID == callID {
			delete(m.owners, name)
		}
	}
}

// locate is the retry entry point used by scheduled timers.
func (m *Manager) locate(o *ownership, after time.Duration) {
	if _, ok := m.owners[o.Name]; !ok {
		return // already collected
	}
	if m.locateNow(o) {
		return
	}
	o.Attempts++
	if o.Attempts >= maxLocateAttempts {
		log.Printf("[Recording] Giving up on %s after %d attempts", o.Name, o.Attempts)
		delete(m.owners, o.Name)
		return
	}
	m.schedule(retryGeneric, func() { m.locate(o, retryGeneric) })
}

// locateNow searches the known directories for the file and moves it
// into the canonical directory when found elsewhere. Ownership clears
// only once the file rests in place.
func (m *Manager) locateNow(o *ownership) bool {
	filename := o.Name + "." + o.Format
	canonical := filepath.Join(m.cfg.Dir, filename)

	for _, dir := range m.searchDirs() {
		candidate := filepath.Join(dir, filename)
		info, err := os.Stat(candidate)
		if err != nil {
			if m.verbose && !os.IsNotExist(err) {
				log.Printf("[Recording] Stat %s: %v", candidate, err)
			}
			continue
		}
		if info.IsDir() {
			continue
		}

		if candidate == canonical {
			log.Printf("[Recording] %s already in place", filename)
			delete(m.owners, o.Name)
			return true
		}

		if err := moveFile(candidate, canonical); err != nil {
			log.Printf("[Recording] Failed to move %s -> %s: %v", candidate, canonical, err)
			return false
		}
		log.Printf("[Recording] Moved %s -> %s", candidate, canonical)
		delete(m.owners, o.Name)
		return true
	}
	return false
}

// moveFile renames src to dst, falling back to copy+unlink when the
// rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination dir: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	// syscall.EXDEV surfaces as "invalid cross-device link" inside a
	// *LinkError; match on the text so the check stays portable.
	return err != nil && strings.Contains(err.Error(), "cross-device")
}

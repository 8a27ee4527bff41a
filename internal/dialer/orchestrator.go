package dialer

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"aridialer/internal/ari"
	"aridialer/internal/call"
	"aridialer/internal/config"
)

var numberRe = regexp.MustCompile(`^[0-9+*#]+$`)

// LoadNumbers reads the destination list: a newline-delimited file when
// OUTBOUND_NUMBER_FILE is set (the file wins over an inline number),
// otherwise the single inline OUTBOUND_NUMBER. Invalid tokens are warned
// and skipped; an empty result is a configuration error.
func LoadNumbers(cfg *config.Config) ([]string, error) {
	var numbers []string

	if path := cfg.Dial.OutboundNumberFile; path != "" {
		var err error
		numbers, err = readNumberFile(path)
		if err != nil {
			return nil, err
		}
	} else if n := strings.TrimSpace(cfg.Dial.OutboundNumber); n != "" {
		if !numberRe.MatchString(n) {
			log.Printf("[Orchestrator] Skipping invalid OUTBOUND_NUMBER: %q", n)
		} else {
			numbers = append(numbers, n)
		}
	}

	if len(numbers) == 0 {
		return nil, fmt.Errorf("no valid outbound numbers configured")
	}
	return numbers, nil
}

// readNumberFile parses a newline-delimited number file, tolerating CRLF
// endings and blank lines.
func readNumberFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening number file: %w", err)
	}
	defer f.Close()

	var numbers []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		token := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if token == "" {
			continue
		}
		if !numberRe.MatchString(token) {
			log.Printf("[Orchestrator] Skipping invalid number on line %d: %q", line, token)
			continue
		}
		numbers = append(numbers, token)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading number file: %w", err)
	}
	return numbers, nil
}

// ValidateNumberFile parses a number file and errors when it yields no
// usable destinations.
func ValidateNumberFile(path string) ([]string, error) {
	numbers, err := readNumberFile(path)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, fmt.Errorf("no valid numbers in %s", path)
	}
	return numbers, nil
}

// watchdogDelay computes the cleanup deadline for one call: generous
// enough to outlive the platform's own originate timeout.
func watchdogDelay(callTimeoutSeconds int) time.Duration {
	d := time.Duration(callTimeoutSeconds)*time.Second + 15*time.Second
	if d < 45*time.Second {
		d = 45 * time.Second
	}
	return d
}

// maybeOriginateNext fills free concurrency slots from the queue and
// logs queue depletion exactly once per run. Runs on the engine loop.
func (e *Engine) maybeOriginateNext() {
	for len(e.queue) > 0 && len(e.inFlight) < e.cfg.Dial.MaxConcurrent {
		number := e.queue[0]
		e.queue = e.queue[1:]
		e.originate(number)
	}

	if len(e.queue) == 0 && len(e.inFlight) == 0 && !e.depletionLogged {
		e.depletionLogged = true
		log.Println("[Orchestrator] Number queue depleted, no calls in flight")
	}
}

// originate places one outbound call and registers its state.
func (e *Engine) originate(number string) {
	callID := uuid.NewString()
	now := e.now()

	e.inFlight[callID] = number
	c := e.store.GetOrCreate(callID, number, now)

	delay := watchdogDelay(e.cfg.Dial.CallTimeout)
	c.Watchdog = e.schedule(delay, func() { e.watchdogFired(callID) })

	req := ari.OriginateRequest{
		Endpoint: e.cfg.TrunkEndpoint(number),
		App:      e.cfg.ARI.App,
		AppArgs:  "dialer," + callID,
		CallerID: e.cfg.Dial.CallerID,
		Timeout:  e.cfg.Dial.CallTimeout,
	}

	log.Printf("[Orchestrator] Originating %s (call %s)", number, callID)
	if _, err := e.client.Originate(req); err != nil {
		log.Printf("[Orchestrator] Originate failed for %s: %v", number, err)
		if c.Watchdog != nil {
			c.Watchdog.Stop()
		}
		e.store.Purge(callID)
		delete(e.inFlight, callID)
		return
	}
}

// markCallCompleted releases the call's concurrency slot and keeps the
// run going.
func (e *Engine) markCallCompleted(callID string) {
	delete(e.inFlight, callID)
	e.maybeOriginateNext()
}

// watchdogFired force-cleans a call that outlived its deadline.
func (e *Engine) watchdogFired(callID string) {
	c := e.store.Get(callID)
	if c == nil {
		return
	}
	log.Printf("[Orchestrator] Watchdog fired for call %s (%s)", callID, c.Number)
	e.completeCall(c)
}

// hangupOthers hangs up every channel in the call except the one given.
// Hangup failures are logged, never fatal.
func (e *Engine) hangupOthers(c *call.Call, exceptChannelID string) {
	for ch := range c.Channels {
		if ch == exceptChannelID {
			continue
		}
		if err := e.client.Hangup(ch); err != nil {
			log.Printf("[Orchestrator] Hangup %s failed: %v", ch, err)
		}
	}
}

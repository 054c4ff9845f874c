package guide

import (
	"sync"
	"time"
)

// Phase is the sync state of the selected hospital.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseChecking
	PhaseUpToDate
	PhaseNeedsDownload
	PhaseDownloadFailed
	PhaseNeverSyncedOffline
	PhaseStaleOffline
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseChecking:
		return "checking"
	case PhaseUpToDate:
		return "up_to_date"
	case PhaseNeedsDownload:
		return "needs_download"
	case PhaseDownloadFailed:
		return "download_failed"
	case PhaseNeverSyncedOffline:
		return "never_synced_offline"
	case PhaseStaleOffline:
		return "stale_offline"
	default:
		return "unknown"
	}
}

// Flags are the booleans the presentation layer gates navigation on.
type Flags struct {
	CheckingUpdates       bool
	Downloading           bool
	OfflineUpdateRequired bool
	ViewingStaleVersion   bool
	// DownloadFailed is set together with Downloading when a replication
	// failed and the next trigger has to retry it.
	DownloadFailed bool
}

// CanBrowse reports whether all four gating flags are clear.
func (f Flags) CanBrowse() bool {
	return !f.CheckingUpdates && !f.Downloading && !f.OfflineUpdateRequired && !f.ViewingStaleVersion
}

// Status is one published outcome of a reconciliation pass.
type Status struct {
	Phase      Phase
	HospitalID int64
	Generation uint64
	Err        error
	UpdatedAt  time.Time
}

// Flags derives the gating flags from the phase.
func (s Status) Flags() Flags {
	var f Flags
	switch s.Phase {
	case PhaseInit, PhaseChecking:
		f.CheckingUpdates = true
	case PhaseNeedsDownload:
		f.Downloading = true
	case PhaseDownloadFailed:
		f.Downloading = true
		f.DownloadFailed = true
	case PhaseNeverSyncedOffline:
		f.OfflineUpdateRequired = true
	case PhaseStaleOffline:
		f.ViewingStaleVersion = true
	}
	return f
}

// StatusPublisher holds the latest accepted Status. Statuses from a superseded
// generation are dropped.
type StatusPublisher struct {
	gens  Generations
	clock Clock

	mu      sync.Mutex
	current Status
	subs    map[int]chan Status
	nextID  int
}

// NewStatusPublisher creates a publisher starting in PhaseInit.
func NewStatusPublisher(gens Generations, clock Clock) *StatusPublisher {
	return &StatusPublisher{
		gens:    gens,
		clock:   clock,
		current: Status{Phase: PhaseInit, UpdatedAt: clock.Now()},
		subs:    make(map[int]chan Status),
	}
}

// Publish makes s the current status if its generation is still current.
// It reports whether s was accepted.
func (p *StatusPublisher) Publish(s Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.gens.IsCurrent(s.Generation) || s.Generation < p.current.Generation {
		return false
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = p.clock.Now()
	}
	p.current = s

	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	return true
}

// Current returns the latest accepted status.
func (p *StatusPublisher) Current() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Flags returns the flags of the latest accepted status.
func (p *StatusPublisher) Flags() Flags {
	return p.Current().Flags()
}

// CanBrowse reports whether the presentation layer may show content.
func (p *StatusPublisher) CanBrowse() bool {
	return p.Flags().CanBrowse()
}

// Subscribe returns a channel receiving each accepted status, newest wins.
func (p *StatusPublisher) Subscribe() (<-chan Status, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Status, 1)
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

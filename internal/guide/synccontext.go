package guide

import "sync"

// Connectivity is the last known reachability of the remote.
type Connectivity int

const (
	ConnectivityUnknown Connectivity = iota
	ConnectivityOnline
	ConnectivityOffline
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityOnline:
		return "online"
	case ConnectivityOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// SyncState is an immutable view of the SyncContext at one generation.
// HospitalID is zero when no hospital is selected.
type SyncState struct {
	Connectivity Connectivity
	HospitalID   int64
	Generation   uint64
}

// HasHospital reports whether a hospital is selected.
func (s SyncState) HasHospital() bool { return s.HospitalID != 0 }

// Generations answers whether a generation is still the newest one.
type Generations interface {
	IsCurrent(generation uint64) bool
}

// SyncContext holds the selected hospital and connectivity shared by every
// sync component. Each effective change bumps the generation and is delivered
// to subscribers. A slow subscriber only ever sees the newest state.
type SyncContext struct {
	mu     sync.Mutex
	state  SyncState
	subs   map[int]chan SyncState
	nextID int
}

// NewSyncContext creates a SyncContext with unknown connectivity and no hospital.
func NewSyncContext() *SyncContext {
	return &SyncContext{subs: make(map[int]chan SyncState)}
}

// State returns the current state.
func (c *SyncContext) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsCurrent reports whether generation is the current one.
func (c *SyncContext) IsCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Generation == generation
}

// SetOnline records a connectivity observation. Repeating the current value
// does not start a new generation.
func (c *SyncContext) SetOnline(online bool) {
	conn := ConnectivityOffline
	if online {
		conn = ConnectivityOnline
	}
	c.SetConnectivity(conn)
}

// SetConnectivity records a connectivity value.
func (c *SyncContext) SetConnectivity(conn Connectivity) {
	c.update(func(s *SyncState) bool {
		if s.Connectivity == conn {
			return false
		}
		s.Connectivity = conn
		return true
	})
}

// SelectHospital changes the selected hospital. Zero clears the selection.
func (c *SyncContext) SelectHospital(id int64) {
	c.update(func(s *SyncState) bool {
		if s.HospitalID == id {
			return false
		}
		s.HospitalID = id
		return true
	})
}

// Subscribe returns a channel receiving every new state and a function that
// removes the subscription.
func (c *SyncContext) Subscribe() (<-chan SyncState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan SyncState, 1)
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *SyncContext) update(apply func(*SyncState) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !apply(&c.state) {
		return
	}
	c.state.Generation++

	for _, ch := range c.subs {
		// Drop a stale pending state so the send never blocks.
		select {
		case <-ch:
		default:
		}
		ch <- c.state
	}
}

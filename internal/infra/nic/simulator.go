package nic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

var (
	// ErrNoDevice is returned for an id the simulator does not know.
	ErrNoDevice = errors.New("nic: no such device")

	// ErrResetFailed is returned by an injected reset failure.
	ErrResetFailed = errors.New("nic: reset sequence failed")

	// ErrNotReady is returned by WaitReady on a device that never settles.
	ErrNotReady = errors.New("nic: device not ready")
)

// Profile configures how a simulated device behaves.
type Profile struct {
	Status domain.RawStatus
	Link   domain.LinkState

	// FailResets makes the next n resets fail. Negative fails forever.
	FailResets int

	// Stuck makes every status read return the sentinel until a reset
	// succeeds with Stuck cleared.
	Stuck bool

	// Hang blocks hardware calls until their context expires.
	Hang bool
}

// ResetHook lets tests override reset behavior. A nil return lets the
// default handling continue.
type ResetHook func(id string, level domain.EscalationLevel) error

type simDevice struct {
	profile Profile
	resets  map[domain.EscalationLevel]int
}

// SimAdapter is an in-memory Adapter for tests and the demo daemon. It
// records every call so tests can assert that no hardware was touched.
type SimAdapter struct {
	OnReset ResetHook

	mu      sync.Mutex
	devices map[string]*simDevice
	calls   int
}

// NewSimAdapter constructs an empty simulator.
func NewSimAdapter() *SimAdapter {
	return &SimAdapter{devices: make(map[string]*simDevice)}
}

// AddDevice installs a device with the given profile.
func (s *SimAdapter) AddDevice(id string, p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[id] = &simDevice{profile: p, resets: make(map[domain.EscalationLevel]int)}
}

// Update mutates the profile of id.
func (s *SimAdapter) Update(id string, fn func(p *Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDevice, id)
	}
	fn(&d.profile)
	return nil
}

// Calls reports how many hardware operations have been issued.
func (s *SimAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ResetCounts reports resets issued to id per level.
func (s *SimAdapter) ResetCounts(id string) map[domain.EscalationLevel]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.EscalationLevel]int)
	if d, ok := s.devices[id]; ok {
		for l, n := range d.resets {
			out[l] = n
		}
	}
	return out
}

// TotalResets reports every reset issued to id.
func (s *SimAdapter) TotalResets(id string) int {
	n := 0
	for _, c := range s.ResetCounts(id) {
		n += c
	}
	return n
}

func (s *SimAdapter) ReadStatus(ctx context.Context, id string) (domain.RawStatus, error) {
	d, err := s.enter(id)
	if err != nil {
		return domain.RawStatus{}, err
	}
	if d.Hang {
		<-ctx.Done()
		return domain.RawStatus{}, ctx.Err()
	}
	if d.Stuck {
		return domain.RawStatus{Word: domain.StatusSentinel}, nil
	}
	return d.Status, nil
}

func (s *SimAdapter) Reset(ctx context.Context, id string, level domain.EscalationLevel) error {
	if _, err := s.enter(id); err != nil {
		return err
	}

	s.mu.Lock()
	d := s.devices[id]
	d.resets[level]++
	hang := d.profile.Hang
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	if s.OnReset != nil {
		if err := s.OnReset(id, level); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d.profile.FailResets != 0 {
		if d.profile.FailResets > 0 {
			d.profile.FailResets--
		}
		return fmt.Errorf("%w: %s at %s", ErrResetFailed, id, level)
	}
	d.profile.Status = domain.RawStatus{}
	if level >= domain.LevelHardReset {
		d.profile.Link = domain.LinkUp
	}
	return nil
}

func (s *SimAdapter) LinkState(ctx context.Context, id string) domain.LinkState {
	d, err := s.enter(id)
	if err != nil {
		return domain.LinkUnknown
	}
	return d.Link
}

func (s *SimAdapter) WaitReady(ctx context.Context, id string, mask uint16, timeout time.Duration) error {
	d, err := s.enter(id)
	if err != nil {
		return err
	}
	if d.Hang || d.Stuck {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout):
			return fmt.Errorf("%w: %s", ErrNotReady, id)
		}
	}
	if mask&ReadyLink != 0 && d.Link != domain.LinkUp {
		return fmt.Errorf("%w: %s has no carrier", ErrNotReady, id)
	}
	return nil
}

// enter counts the call and returns a copy of the profile.
func (s *SimAdapter) enter(id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	d, ok := s.devices[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNoDevice, id)
	}
	return d.profile, nil
}

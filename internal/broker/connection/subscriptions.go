package connection

import (
	"fmt"
	"sync"

	"llm-autotrader/internal/broker/transport"
)

// Subscriptions owns the standing push streams (positions, account updates).
// The manager starts them on every connect and marks them stale on disconnect;
// snapshots keep their last known values in between.
type Subscriptions struct {
	sender  interface{ Send(transport.Request) error }
	account string

	mu     sync.Mutex
	active bool
	fresh  bool
}

func newSubscriptions(sender interface{ Send(transport.Request) error }, account string) *Subscriptions {
	return &Subscriptions{sender: sender, account: account}
}

func (s *Subscriptions) Start() error {
	if err := s.sender.Send(transport.Request{Op: transport.OpReqPositions}); err != nil {
		return fmt.Errorf("subscribe positions: %w", err)
	}
	err := s.sender.Send(transport.Request{
		Op:      transport.OpReqAccountUpdates,
		Payload: accountUpdatesReq{Subscribe: true, Account: s.account},
	})
	if err != nil {
		return fmt.Errorf("subscribe account updates: %w", err)
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	return nil
}

func (s *Subscriptions) Stop() error {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.fresh = false
	s.mu.Unlock()
	if !wasActive {
		return nil
	}

	if err := s.sender.Send(transport.Request{Op: transport.OpCancelPositions}); err != nil {
		return err
	}
	return s.sender.Send(transport.Request{
		Op:      transport.OpReqAccountUpdates,
		Payload: accountUpdatesReq{Subscribe: false, Account: s.account},
	})
}

func (s *Subscriptions) markFresh() {
	s.mu.Lock()
	s.fresh = true
	s.mu.Unlock()
}

// markStale is called on connection loss. The streams are gone with the socket.
func (s *Subscriptions) markStale() {
	s.mu.Lock()
	s.fresh = false
	s.active = false
	s.mu.Unlock()
}

// Fresh reports whether the position snapshot completed since the last connect.
func (s *Subscriptions) Fresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fresh
}

func (s *Subscriptions) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrBrokerNotFound      = errors.New("broker not found")
	ErrShareholderNotFound = errors.New("shareholder not found")
	ErrAlreadyRegistered   = errors.New("already registered")
)

// Registry resolves brokers and shareholders by id.
type Registry struct {
	mu           sync.RWMutex
	brokers      map[string]*Broker
	shareholders map[string]*Shareholder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		brokers:      make(map[string]*Broker),
		shareholders: make(map[string]*Shareholder),
	}
}

// RegisterBroker adds a broker with an opening credit.
func (r *Registry) RegisterBroker(id string, credit int64) (*Broker, error) {
	if credit < 0 {
		return nil, fmt.Errorf("broker %s: credit must not be negative", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.brokers[id]; exists {
		return nil, fmt.Errorf("broker %s: %w", id, ErrAlreadyRegistered)
	}
	b := NewBroker(id, credit)
	r.brokers[id] = b
	return b, nil
}

// RegisterShareholder adds a shareholder with opening positions.
func (r *Registry) RegisterShareholder(id string, positions map[string]int64) (*Shareholder, error) {
	for symbol, qty := range positions {
		if qty < 0 {
			return nil, fmt.Errorf("shareholder %s: position in %s must not be negative", id, symbol)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shareholders[id]; exists {
		return nil, fmt.Errorf("shareholder %s: %w", id, ErrAlreadyRegistered)
	}
	s := NewShareholder(id)
	for symbol, qty := range positions {
		s.IncreasePosition(symbol, qty)
	}
	r.shareholders[id] = s
	return s, nil
}

// Broker looks up a broker by id.
func (r *Registry) Broker(id string) (*Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.brokers[id]
	if !exists {
		return nil, fmt.Errorf("broker %s: %w", id, ErrBrokerNotFound)
	}
	return b, nil
}

// Shareholder looks up a shareholder by id.
func (r *Registry) Shareholder(id string) (*Shareholder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.shareholders[id]
	if !exists {
		return nil, fmt.Errorf("shareholder %s: %w", id, ErrShareholderNotFound)
	}
	return s, nil
}

// BrokerIDs returns all registered broker ids, sorted.
func (r *Registry) BrokerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.brokers))
	for id := range r.brokers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

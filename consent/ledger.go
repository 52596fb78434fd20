package consent

import (
	"fmt"
	"sync"
)

// Store persists ledger contents.
type Store interface {
	Load() (map[Consent]State, error)
	Save(map[Consent]State) error
}

// Ledger is a concurrency-safe table of consent states. Consents that were
// never decided are Unknown.
type Ledger struct {
	mu     sync.RWMutex
	states map[Consent]State
	store  Store
}

// NewLedger creates an empty ledger. A nil store keeps state in memory only.
func NewLedger(store Store) (*Ledger, error) {
	l := &Ledger{
		states: make(map[Consent]State),
		store:  store,
	}
	if store == nil {
		return l, nil
	}
	states, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load consent ledger: %w", err)
	}
	for c, s := range states {
		if _, err := Parse(string(c)); err != nil {
			return nil, err
		}
		l.states[c] = s
	}
	return l, nil
}

// Get returns the recorded state for c.
func (l *Ledger) Get(c Consent) State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.states[c]
}

// Set records s for c and persists the ledger.
func (l *Ledger) Set(c Consent, s State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s == Unknown {
		delete(l.states, c)
	} else {
		l.states[c] = s
	}
	return l.saveLocked()
}

// SetAll records s for every required consent.
func (l *Ledger) SetAll(s State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range Required {
		if s == Unknown {
			delete(l.states, c)
		} else {
			l.states[c] = s
		}
	}
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	if l.store == nil {
		return nil
	}
	cp := make(map[Consent]State, len(l.states))
	for c, s := range l.states {
		cp[c] = s
	}
	return l.store.Save(cp)
}

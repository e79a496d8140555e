package migrate

import "sync"

// Notice is one informational message produced by a migration or seeder.
// Notices never represent errors.
type Notice struct {
	Unit    string
	Source  string
	Message string
}

// Notices collects notices keyed by originating unit. Emission order is
// deterministic: units in first-insertion order, notices in insertion
// order within a unit.
type Notices struct {
	mu     sync.Mutex
	order  []string
	byUnit map[string][]Notice
}

func NewNotices() *Notices {
	return &Notices{byUnit: make(map[string][]Notice)}
}

func (n *Notices) Add(unit, source, message string) {
	if message == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.byUnit[unit]; !seen {
		n.order = append(n.order, unit)
	}
	n.byUnit[unit] = append(n.byUnit[unit], Notice{Unit: unit, Source: source, Message: message})
}

// All returns every collected notice in emission order.
func (n *Notices) All() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notice
	for _, unit := range n.order {
		out = append(out, n.byUnit[unit]...)
	}
	return out
}

// Reset clears the collection.
func (n *Notices) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.order = nil
	n.byUnit = make(map[string][]Notice)
}

// Package contracts tracks employment relationships between houses and offices.
// A Contract is identified by its pointer: two contracts joining the same pair of
// cells are still distinct jobs.
package contracts

import (
	"errors"
	"fmt"
	"sort"

	"github.com/talgya/tilecity/internal/grid"
)

// ErrNotIndexed is returned when a contract is missing from a collection that
// must hold it. It always means the registry or its caller is corrupted.
var ErrNotIndexed = errors.New("contract not indexed")

// Contract links one resident (employee side) to one job (employer side).
type Contract struct {
	ID          uint64     `json:"id"` // Assigned by the registry, increasing in hire order
	Employee    grid.Coord `json:"employee"`
	Employer    grid.Coord `json:"employer"`
	CommuteTime float64    `json:"commute_time"`
}

// String returns "employee->employer".
func (k *Contract) String() string {
	return k.Employee.String() + "->" + k.Employer.String()
}

// IntegrityError names the collection that failed to hold a contract.
type IntegrityError struct {
	Index    string // "all", "employer" or "employee"
	Contract *Contract
	Err      error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("contract %s: %s index: %v", e.Contract, e.Index, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Registry holds every contract plus lookups by either end.
type Registry struct {
	all        []*Contract
	pos        map[*Contract]int // position in all
	byEmployer map[grid.Coord][]*Contract
	byEmployee map[grid.Coord][]*Contract
	nextID     uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pos:        make(map[*Contract]int),
		byEmployer: make(map[grid.Coord][]*Contract),
		byEmployee: make(map[grid.Coord][]*Contract),
		nextID:     1,
	}
}

// Add registers a contract and assigns its ID. Adding the same pointer twice
// is an error.
func (r *Registry) Add(k *Contract) error {
	if k == nil {
		return errors.New("add nil contract")
	}
	if _, dup := r.pos[k]; dup {
		return fmt.Errorf("contract %s already registered", k)
	}
	k.ID = r.nextID
	r.nextID++
	r.insert(k)
	return nil
}

// Load fills an empty registry from a saved main list, keeping each
// contract's ID. Buckets come back in ID order, which is the order Add
// built them in. After a failed Load the registry must be discarded.
func (r *Registry) Load(list []*Contract, nextID uint64) error {
	if len(r.all) != 0 {
		return errors.New("load into non-empty registry")
	}
	seen := make(map[uint64]bool, len(list))
	for _, k := range list {
		if k == nil {
			return errors.New("load nil contract")
		}
		if k.ID == 0 || k.ID >= nextID {
			return fmt.Errorf("contract %s: id %d outside 1..%d", k, k.ID, nextID-1)
		}
		if seen[k.ID] {
			return fmt.Errorf("contract %s: duplicate id %d", k, k.ID)
		}
		seen[k.ID] = true
		r.insert(k)
	}
	byID := func(list []*Contract) {
		sort.Slice(list, func(a, b int) bool { return list[a].ID < list[b].ID })
	}
	for _, bucket := range r.byEmployer {
		byID(bucket)
	}
	for _, bucket := range r.byEmployee {
		byID(bucket)
	}
	r.nextID = nextID
	return nil
}

// NextID returns the ID the next Add will assign.
func (r *Registry) NextID() uint64 {
	return r.nextID
}

func (r *Registry) insert(k *Contract) {
	r.pos[k] = len(r.all)
	r.all = append(r.all, k)
	r.byEmployer[k.Employer] = append(r.byEmployer[k.Employer], k)
	r.byEmployee[k.Employee] = append(r.byEmployee[k.Employee], k)
}

// Remove unregisters exactly this contract from all three collections.
// It checks every collection before touching any of them, so a failed
// removal leaves the registry unchanged.
func (r *Registry) Remove(k *Contract) error {
	at, ok := r.pos[k]
	if !ok {
		return &IntegrityError{Index: "all", Contract: k, Err: ErrNotIndexed}
	}
	ei := indexOf(r.byEmployer[k.Employer], k)
	if ei < 0 {
		return &IntegrityError{Index: "employer", Contract: k, Err: ErrNotIndexed}
	}
	wi := indexOf(r.byEmployee[k.Employee], k)
	if wi < 0 {
		return &IntegrityError{Index: "employee", Contract: k, Err: ErrNotIndexed}
	}

	// Swap-remove from the main list.
	last := len(r.all) - 1
	if at != last {
		moved := r.all[last]
		r.all[at] = moved
		r.pos[moved] = at
	}
	r.all[last] = nil
	r.all = r.all[:last]
	delete(r.pos, k)

	r.byEmployer[k.Employer] = removeAt(r.byEmployer[k.Employer], ei)
	if len(r.byEmployer[k.Employer]) == 0 {
		delete(r.byEmployer, k.Employer)
	}
	r.byEmployee[k.Employee] = removeAt(r.byEmployee[k.Employee], wi)
	if len(r.byEmployee[k.Employee]) == 0 {
		delete(r.byEmployee, k.Employee)
	}
	return nil
}

// ByEmployer returns the contracts whose job is at c. The slice is owned by
// the registry; copy it before removing while iterating.
func (r *Registry) ByEmployer(c grid.Coord) []*Contract {
	if list := r.byEmployer[c]; list != nil {
		return list
	}
	return []*Contract{}
}

// ByEmployee returns the contracts whose resident lives at c, oldest first.
func (r *Registry) ByEmployee(c grid.Coord) []*Contract {
	if list := r.byEmployee[c]; list != nil {
		return list
	}
	return []*Contract{}
}

// Has reports whether this exact contract is registered.
func (r *Registry) Has(k *Contract) bool {
	_, ok := r.pos[k]
	return ok
}

// Len returns the number of contracts.
func (r *Registry) Len() int {
	return len(r.all)
}

// At returns the n-th contract of the main list.
func (r *Registry) At(n int) *Contract {
	return r.all[n]
}

// All returns a copy of the main list.
func (r *Registry) All() []*Contract {
	out := make([]*Contract, len(r.all))
	copy(out, r.all)
	return out
}

// Check verifies that the main list and both indexes hold the same contracts,
// each exactly once.
func (r *Registry) Check() error {
	if len(r.pos) != len(r.all) {
		return fmt.Errorf("position map has %d entries for %d contracts", len(r.pos), len(r.all))
	}
	for n, k := range r.all {
		if r.pos[k] != n {
			return &IntegrityError{Index: "all", Contract: k, Err: ErrNotIndexed}
		}
		if count(r.byEmployer[k.Employer], k) != 1 {
			return &IntegrityError{Index: "employer", Contract: k, Err: ErrNotIndexed}
		}
		if count(r.byEmployee[k.Employee], k) != 1 {
			return &IntegrityError{Index: "employee", Contract: k, Err: ErrNotIndexed}
		}
	}
	if n := bucketTotal(r.byEmployer); n != len(r.all) {
		return fmt.Errorf("employer index holds %d contracts, want %d", n, len(r.all))
	}
	if n := bucketTotal(r.byEmployee); n != len(r.all) {
		return fmt.Errorf("employee index holds %d contracts, want %d", n, len(r.all))
	}
	for c, list := range r.byEmployer {
		for n, k := range list {
			if n > 0 && list[n-1].ID >= k.ID {
				return fmt.Errorf("employer bucket %s out of order at %s", c, k)
			}
			if k.Employer != c || !r.Has(k) {
				return &IntegrityError{Index: "employer", Contract: k, Err: ErrNotIndexed}
			}
		}
	}
	for c, list := range r.byEmployee {
		for n, k := range list {
			if n > 0 && list[n-1].ID >= k.ID {
				return fmt.Errorf("employee bucket %s out of order at %s", c, k)
			}
			if k.Employee != c || !r.Has(k) {
				return &IntegrityError{Index: "employee", Contract: k, Err: ErrNotIndexed}
			}
		}
	}
	return nil
}

func indexOf(list []*Contract, k *Contract) int {
	for i, x := range list {
		if x == k {
			return i
		}
	}
	return -1
}

func count(list []*Contract, k *Contract) int {
	n := 0
	for _, x := range list {
		if x == k {
			n++
		}
	}
	return n
}

func bucketTotal(m map[grid.Coord][]*Contract) int {
	n := 0
	for _, list := range m {
		n += len(list)
	}
	return n
}

// removeAt deletes list[i] keeping order, so buckets stay oldest-first.
func removeAt(list []*Contract, i int) []*Contract {
	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	return list[:len(list)-1]
}

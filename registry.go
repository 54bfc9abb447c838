package assetlease

import (
	"fmt"
	"sort"
)

// registry is the in-memory store of lease records and their lookup
// indices. It is owned exclusively by the contract and only ever mutated
// under the contract's invocation lock, so it needs no locking of its own.
//
// Index invariant: every index entry has a corresponding lease record and
// vice versa; insert and remove touch all indices in the same step, and a
// lender or borrower whose index set becomes empty loses the entry entirely.
type registry struct {
	leases         map[LeaseID]*Lease
	byLender       map[AccountID]map[LeaseID]struct{}
	byBorrower     map[AccountID]map[LeaseID]struct{}
	byAsset        map[AssetRef]LeaseID
	activeIDs      map[LeaseID]struct{}
	activeByLender map[AccountID]map[LeaseID]struct{}
}

func newRegistry() *registry {
	return &registry{
		leases:         make(map[LeaseID]*Lease),
		byLender:       make(map[AccountID]map[LeaseID]struct{}),
		byBorrower:     make(map[AccountID]map[LeaseID]struct{}),
		byAsset:        make(map[AssetRef]LeaseID),
		activeIDs:      make(map[LeaseID]struct{}),
		activeByLender: make(map[AccountID]map[LeaseID]struct{}),
	}
}

// insert adds a lease and all its index entries in one step. An asset with
// an open lease cannot be leased again.
func (r *registry) insert(l *Lease) error {
	if _, exists := r.leases[l.ID]; exists {
		return fmt.Errorf("lease %s already exists: %w", l.ID, ErrDuplicateListing)
	}
	if _, exists := r.byAsset[l.Asset]; exists {
		return fmt.Errorf("asset %s/%s already has a lease: %w", l.Asset.Contract, l.Asset.TokenID, ErrDuplicateListing)
	}

	r.leases[l.ID] = l
	r.byAsset[l.Asset] = l.ID
	addToIndex(r.byLender, l.LenderID, l.ID)
	addToIndex(r.byBorrower, l.BorrowerID, l.ID)

	if l.State == LeaseStateActive {
		r.activeIDs[l.ID] = struct{}{}
		addToIndex(r.activeByLender, l.LenderID, l.ID)
	}

	return nil
}

// remove deletes a lease and all its index entries in one step.
func (r *registry) remove(id LeaseID) error {
	var l, exists = r.leases[id]
	if !exists {
		return fmt.Errorf("lease %s: %w", id, ErrNotFound)
	}

	delete(r.leases, id)
	delete(r.byAsset, l.Asset)
	removeFromIndex(r.byLender, l.LenderID, id)
	removeFromIndex(r.byBorrower, l.BorrowerID, id)
	delete(r.activeIDs, id)
	removeFromIndex(r.activeByLender, l.LenderID, id)

	return nil
}

// get returns the lease with the given id.
func (r *registry) get(id LeaseID) (*Lease, error) {
	var l, exists = r.leases[id]
	if !exists {
		return nil, fmt.Errorf("lease %s: %w", id, ErrNotFound)
	}
	return l, nil
}

// markActive seeds the active-only mirrors for a lease that just activated.
func (r *registry) markActive(id LeaseID) error {
	var l, exists = r.leases[id]
	if !exists {
		return fmt.Errorf("lease %s: %w", id, ErrNotFound)
	}

	r.activeIDs[id] = struct{}{}
	addToIndex(r.activeByLender, l.LenderID, id)
	return nil
}

// reassignLender moves a lease from one lender to another, touching the
// lease record and both lender-side indices in the same step. The borrower
// is untouched.
func (r *registry) reassignLender(id LeaseID, from, to AccountID) error {
	var l, exists = r.leases[id]
	if !exists {
		return fmt.Errorf("lease %s: %w", id, ErrNotFound)
	}
	if l.LenderID != from {
		return fmt.Errorf("lease %s is not held by %s: %w", id, from, ErrWrongCaller)
	}

	l.LenderID = to
	removeFromIndex(r.byLender, from, id)
	addToIndex(r.byLender, to, id)

	if _, active := r.activeIDs[id]; active {
		removeFromIndex(r.activeByLender, from, id)
		addToIndex(r.activeByLender, to, id)
	}

	return nil
}

// leasesByLender returns all leases lent by the account. Unknown lenders
// yield an empty slice, never an error.
func (r *registry) leasesByLender(lender AccountID) []*Lease {
	return r.collect(r.byLender[lender])
}

// leasesByBorrower returns all leases borrowed by the account.
func (r *registry) leasesByBorrower(borrower AccountID) []*Lease {
	return r.collect(r.byBorrower[borrower])
}

// activeLeasesByLender returns the lender's active leases only.
func (r *registry) activeLeasesByLender(lender AccountID) []*Lease {
	return r.collect(r.activeByLender[lender])
}

// leaseByAsset returns the lease currently covering an asset, if any.
func (r *registry) leaseByAsset(asset AssetRef) (*Lease, bool) {
	var id, exists = r.byAsset[asset]
	if !exists {
		return nil, false
	}
	return r.leases[id], true
}

// activeLeaseIDs returns the ids of all active leases in a stable order.
func (r *registry) activeLeaseIDs() []LeaseID {
	var ids = make([]LeaseID, 0, len(r.activeIDs))
	for id := range r.activeIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// collect resolves an index set into lease records, sorted by id so query
// results are stable.
func (r *registry) collect(ids map[LeaseID]struct{}) []*Lease {
	var leases = make([]*Lease, 0, len(ids))
	for id := range ids {
		leases = append(leases, r.leases[id])
	}
	sort.Slice(leases, func(i, j int) bool { return leases[i].ID < leases[j].ID })
	return leases
}

func addToIndex(index map[AccountID]map[LeaseID]struct{}, account AccountID, id LeaseID) {
	var set, exists = index[account]
	if !exists {
		set = make(map[LeaseID]struct{})
		index[account] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex(index map[AccountID]map[LeaseID]struct{}, account AccountID, id LeaseID) {
	var set, exists = index[account]
	if !exists {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, account)
	}
}

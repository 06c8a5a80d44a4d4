package dedup

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-dedup/internal/model"
)

// Invariant violations. These indicate a state-machine bug in the caller, not
// bad input, so pipeline steps treat them as fatal for the run.
var (
	ErrGroupNotFound  = eris.New("dedup: group not found")
	ErrGroupDiscarded = eris.New("dedup: group is discarded")
	ErrMemberVerified = eris.New("dedup: record belongs to a verified group")
	ErrAlreadyGrouped = eris.New("dedup: record already belongs to a group")
	ErrTooFewMembers  = eris.New("dedup: group needs at least two members")
)

type groupState struct {
	members map[string]struct{}
	status  model.GroupStatus
}

// Registry owns all cluster state for a run. Group ids are allocated
// monotonically and never reused, so a discarded id can never silently
// reattach. The registry is safe for concurrent reads; all mutation must be
// funneled through a single writer (the mutex guards against misuse, not as a
// license for concurrent mutation).
type Registry struct {
	mu       sync.Mutex
	nextID   int64
	groups   map[int64]*groupState
	byRecord map[string]int64
}

// NewRegistry creates an empty group registry.
func NewRegistry() *Registry {
	return &Registry{
		nextID:   1,
		groups:   make(map[int64]*groupState),
		byRecord: make(map[string]int64),
	}
}

// NewRegistryFromRecords reconstructs a registry from previously resolved
// records, preserving their group ids. Used to apply manual review decisions
// through the same mutation path as automated ones.
func NewRegistryFromRecords(records []*model.Record, verified map[int64]bool) *Registry {
	r := NewRegistry()
	for _, rec := range records {
		if rec.GroupID == 0 {
			continue
		}
		g, ok := r.groups[rec.GroupID]
		if !ok {
			g = &groupState{members: make(map[string]struct{}), status: model.GroupProvisional}
			if verified[rec.GroupID] {
				g.status = model.GroupVerified
			}
			r.groups[rec.GroupID] = g
		}
		g.members[rec.ID] = struct{}{}
		r.byRecord[rec.ID] = rec.GroupID
		if rec.GroupID >= r.nextID {
			r.nextID = rec.GroupID + 1
		}
	}
	return r
}

// CreateGroup allocates a new group containing the given records. It fails if
// fewer than two ids are supplied or if any record already belongs to a live
// group; provisional membership must be resolved through Merge, never by
// re-creation, and verified membership is untouchable.
func (r *Registry) CreateGroup(recordIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(recordIDs) < 2 {
		return 0, eris.Wrapf(ErrTooFewMembers, "create_group with %d records", len(recordIDs))
	}

	for _, id := range recordIDs {
		gid, grouped := r.byRecord[id]
		if !grouped {
			continue
		}
		if r.groups[gid].status == model.GroupVerified {
			return 0, eris.Wrapf(ErrMemberVerified, "record %s in group %d", id, gid)
		}
		return 0, eris.Wrapf(ErrAlreadyGrouped, "record %s in group %d", id, gid)
	}

	gid := r.nextID
	r.nextID++

	g := &groupState{members: make(map[string]struct{}, len(recordIDs)), status: model.GroupProvisional}
	for _, id := range recordIDs {
		g.members[id] = struct{}{}
		r.byRecord[id] = gid
	}
	r.groups[gid] = g

	return gid, nil
}

// AddMember attaches an ungrouped record to an existing live group.
func (r *Registry) AddMember(groupID int64, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return eris.Wrapf(ErrGroupNotFound, "add member to group %d", groupID)
	}
	if g.status == model.GroupDiscarded {
		return eris.Wrapf(ErrGroupDiscarded, "add member to group %d", groupID)
	}
	if gid, grouped := r.byRecord[recordID]; grouped {
		return eris.Wrapf(ErrAlreadyGrouped, "record %s in group %d", recordID, gid)
	}

	g.members[recordID] = struct{}{}
	r.byRecord[recordID] = groupID
	return nil
}

// Merge unions two groups' membership into the lower-numbered id. The higher
// id is discarded. Merging a discarded group is an invariant violation. The
// merged group is verified only if both inputs were.
func (r *Registry) Merge(a, b int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a == b {
		if _, ok := r.groups[a]; !ok {
			return 0, eris.Wrapf(ErrGroupNotFound, "merge group %d", a)
		}
		return a, nil
	}

	ga, ok := r.groups[a]
	if !ok {
		return 0, eris.Wrapf(ErrGroupNotFound, "merge group %d", a)
	}
	gb, ok := r.groups[b]
	if !ok {
		return 0, eris.Wrapf(ErrGroupNotFound, "merge group %d", b)
	}
	if ga.status == model.GroupDiscarded {
		return 0, eris.Wrapf(ErrGroupDiscarded, "merge group %d", a)
	}
	if gb.status == model.GroupDiscarded {
		return 0, eris.Wrapf(ErrGroupDiscarded, "merge group %d", b)
	}

	keep, absorb := a, b
	if b < a {
		keep, absorb = b, a
	}
	gKeep, gAbsorb := r.groups[keep], r.groups[absorb]

	for id := range gAbsorb.members {
		gKeep.members[id] = struct{}{}
		r.byRecord[id] = keep
	}
	if gKeep.status == model.GroupVerified && gAbsorb.status != model.GroupVerified {
		gKeep.status = model.GroupProvisional
	}
	delete(r.groups, absorb)

	return keep, nil
}

// Discard invalidates a group, clearing every member's association.
// Irreversible for the run; discarding twice is an invariant violation.
func (r *Registry) Discard(groupID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return eris.Wrapf(ErrGroupNotFound, "discard group %d", groupID)
	}
	if g.status == model.GroupDiscarded {
		return eris.Wrapf(ErrGroupDiscarded, "discard group %d", groupID)
	}

	for id := range g.members {
		delete(r.byRecord, id)
	}
	g.members = make(map[string]struct{})
	g.status = model.GroupDiscarded

	return nil
}

// Verify marks a group final for the run.
func (r *Registry) Verify(groupID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return eris.Wrapf(ErrGroupNotFound, "verify group %d", groupID)
	}
	if g.status == model.GroupDiscarded {
		return eris.Wrapf(ErrGroupDiscarded, "verify group %d", groupID)
	}

	g.status = model.GroupVerified
	return nil
}

// GroupOf returns the record's current group id, if any.
func (r *Registry) GroupOf(recordID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gid, ok := r.byRecord[recordID]
	return gid, ok
}

// MembersOf returns every record sharing a group with recordID (including
// itself), or nil when the record is ungrouped.
func (r *Registry) MembersOf(recordID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	gid, ok := r.byRecord[recordID]
	if !ok {
		return nil
	}
	return sortedMembers(r.groups[gid])
}

// Members returns a group's member ids, sorted for determinism.
func (r *Registry) Members(groupID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	return sortedMembers(g)
}

// Status returns a group's status.
func (r *Registry) Status(groupID int64) (model.GroupStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return "", false
	}
	return g.status, true
}

// Groups snapshots every non-discarded group, sorted by id.
func (r *Registry) Groups() []model.Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Group, 0, len(r.groups))
	for gid, g := range r.groups {
		if g.status == model.GroupDiscarded {
			continue
		}
		out = append(out, model.Group{ID: gid, MemberIDs: sortedMembers(g), Status: g.status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedMembers(g *groupState) []string {
	out := make([]string, 0, len(g.members))
	for id := range g.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

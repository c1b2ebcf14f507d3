package room

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codestream/internal/clock"
	"codestream/internal/logging"
	"codestream/pkg/types"
)

// Room is the shared state behind one room id.
type Room struct {
	ID string
	// Instance is unique per lifetime of ID; a room recreated after reclaim
	// gets a new one.
	Instance  string
	CreatedAt time.Time

	participants map[string]*types.Participant
	order        []string
	files        []*types.FileRecord

	deletionTimer clock.Timer
	generation    uint64
}

// Options configures a Registry.
type Options struct {
	// GracePeriod is how long an empty room survives before it is reclaimed.
	GracePeriod time.Duration
	// Seed, when set, is copied into every newly created room.
	Seed *types.FileRecord
	// OnReclaim runs after a room is discarded, outside the registry lock.
	// instance identifies the discarded lifetime of roomID.
	OnReclaim func(roomID, instance string)
}

// Registry owns every live room.
// ARCHITECTURAL DISCOVERY: One mutex guards the whole map. Grace timers fire on
// their own goroutine, so even with a single dispatch loop the state needs a lock.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	clock clock.Clock
	opts  Options
	log   *logrus.Entry
}

// JoinResult is what a joiner needs to render the room.
type JoinResult struct {
	Self         types.Participant
	Participants []types.Participant
	Files        []types.FileRecord
	Instance     string
	Created      bool
	// Rejoined is true when the connection was already a member.
	Rejoined bool
}

// LeaveResult reports the outcome of Leave.
type LeaveResult struct {
	Removed     bool
	Participant types.Participant
	// Empty means the grace timer was started.
	Empty bool
}

// Snapshot is the full replicated state of a room.
type Snapshot struct {
	Files        []types.FileRecord
	Participants []types.Participant
}

// Summary describes a room for listings.
type Summary struct {
	ID               string    `json:"id"`
	ParticipantCount int       `json:"participantCount"`
	FileCount        int       `json:"fileCount"`
	PendingDeletion  bool      `json:"pendingDeletion"`
	CreatedAt        time.Time `json:"createdAt"`
}

func NewRegistry(clk clock.Clock, opts Options) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		rooms: make(map[string]*Room),
		clock: clk,
		opts:  opts,
		log:   logging.Component("room"),
	}
}

// Join adds connID to roomID, creating the room if needed and cancelling any
// pending reclaim. Joining a room the connection is already in refreshes the
// identity and returns the current state.
func (r *Registry) Join(roomID, connID string, identity types.Identity) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	created := false
	if !exists {
		rm = r.newRoomLocked(roomID)
		r.rooms[roomID] = rm
		created = true
	}

	if rm.deletionTimer != nil {
		rm.deletionTimer.Stop()
		rm.deletionTimer = nil
		rm.generation++
		r.log.WithField("room_id", roomID).Debug("Pending room reclaim cancelled")
	}

	p, rejoined := rm.participants[connID]
	if rejoined {
		if identity.Name != "" {
			p.DisplayName = identity.Name
		}
		if identity.Color != "" {
			p.Color = identity.Color
		}
	} else {
		p = newParticipant(connID, identity, r.clock.Now())
		rm.participants[connID] = p
		rm.order = append(rm.order, connID)
	}

	return JoinResult{
		Self:         *p,
		Participants: rm.participantList(),
		Files:        rm.fileList(),
		Instance:     rm.Instance,
		Created:      created,
		Rejoined:     rejoined,
	}
}

// Leave removes connID from roomID. When the room empties, reclaim is
// scheduled after the grace period. Leaving a room one is not in is a no-op.
func (r *Registry) Leave(roomID, connID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return LeaveResult{}
	}
	p, member := rm.participants[connID]
	if !member {
		return LeaveResult{}
	}

	delete(rm.participants, connID)
	for i, id := range rm.order {
		if id == connID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}

	result := LeaveResult{Removed: true, Participant: *p}
	if len(rm.participants) == 0 {
		rm.generation++
		gen := rm.generation
		rm.deletionTimer = r.clock.AfterFunc(r.opts.GracePeriod, func() {
			r.reclaim(roomID, gen)
		})
		result.Empty = true
		r.log.WithFields(logrus.Fields{
			"room_id":      roomID,
			"grace_period": r.opts.GracePeriod,
		}).Debug("Room empty, reclaim scheduled")
	}
	return result
}

// reclaim discards a room whose grace period ran out. A stale generation
// means a join happened after the timer was armed.
func (r *Registry) reclaim(roomID string, gen uint64) {
	r.mu.Lock()
	rm, exists := r.rooms[roomID]
	if !exists || rm.generation != gen || len(rm.participants) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, roomID)
	instance := rm.Instance
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"room_id":  roomID,
		"instance": instance,
	}).Info("Room reclaimed")
	if r.opts.OnReclaim != nil {
		r.opts.OnReclaim(roomID, instance)
	}
}

// Instance returns the current lifetime id of roomID.
func (r *Registry) Instance(roomID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, exists := r.rooms[roomID]
	if !exists {
		return "", false
	}
	return rm.Instance, true
}

// Exists reports whether roomID is live, including rooms in their grace period.
func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.rooms[roomID]
	return exists
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Snapshot returns the room's files and participants.
func (r *Registry) Snapshot(roomID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return Snapshot{}, false
	}
	return rm.snapshot(), true
}

// List summarizes every live room ordered by id.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summaries := make([]Summary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		summaries = append(summaries, Summary{
			ID:               rm.ID,
			ParticipantCount: len(rm.participants),
			FileCount:        len(rm.files),
			PendingDeletion:  rm.deletionTimer != nil,
			CreatedAt:        rm.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

func (r *Registry) newRoomLocked(roomID string) *Room {
	rm := &Room{
		ID:           roomID,
		Instance:     uuid.New().String(),
		CreatedAt:    r.clock.Now(),
		participants: make(map[string]*types.Participant),
	}
	if r.opts.Seed != nil {
		seed := *r.opts.Seed
		rm.files = append(rm.files, &seed)
	}
	r.log.WithField("room_id", roomID).Info("Room created")
	return rm
}

func (rm *Room) snapshot() Snapshot {
	return Snapshot{
		Files:        rm.fileList(),
		Participants: rm.participantList(),
	}
}

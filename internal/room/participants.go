package room

import (
	"hash/fnv"
	"time"

	"codestream/pkg/types"
)

var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c",
	"#008080", "#9a6324", "#800000", "#000075",
}

// ColorFor derives a stable display color from a connection id.
func ColorFor(connID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// GuestName is used when a joiner supplies no display name.
func GuestName(connID string) string {
	short := connID
	if len(short) > 4 {
		short = short[:4]
	}
	return "Guest-" + short
}

func newParticipant(connID string, identity types.Identity, now time.Time) *types.Participant {
	p := &types.Participant{
		ConnectionID: connID,
		DisplayName:  identity.Name,
		Color:        identity.Color,
		JoinedAt:     now,
	}
	if p.DisplayName == "" {
		p.DisplayName = GuestName(connID)
	}
	if p.Color == "" {
		p.Color = ColorFor(connID)
	}
	return p
}

// Members returns the connection ids of roomID in join order.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return nil
	}
	members := make([]string, len(rm.order))
	copy(members, rm.order)
	return members
}

// IsMember reports whether connID currently participates in roomID.
func (r *Registry) IsMember(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return false
	}
	_, member := rm.participants[connID]
	return member
}

// Participant returns connID's record in roomID.
func (r *Registry) Participant(roomID, connID string) (types.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return types.Participant{}, false
	}
	p, member := rm.participants[connID]
	if !member {
		return types.Participant{}, false
	}
	return *p, true
}

func (rm *Room) participantList() []types.Participant {
	list := make([]types.Participant, 0, len(rm.order))
	for _, id := range rm.order {
		list = append(list, *rm.participants[id])
	}
	return list
}

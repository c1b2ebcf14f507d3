package room

import (
	"codestream/pkg/types"
)

// FUNCTIONAL DISCOVERY: Documents are whole-text, last-write-wins. Every
// mutation below returns ok=false and changes nothing when the room, the file
// or (for AddFile) a free id is missing, so callers broadcast only on ok.

// AddFile appends file to roomID. A duplicate id is a no-op.
func (r *Registry) AddFile(roomID, connID string, file types.FileRecord) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return Snapshot{}, false
	}
	if rm.findFile(file.ID) >= 0 {
		return Snapshot{}, false
	}
	file.LastModifiedBy = connID
	rm.files = append(rm.files, &file)
	return rm.snapshot(), true
}

// DeleteFile removes fileID from roomID.
func (r *Registry) DeleteFile(roomID, fileID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return Snapshot{}, false
	}
	i := rm.findFile(fileID)
	if i < 0 {
		return Snapshot{}, false
	}
	rm.files = append(rm.files[:i], rm.files[i+1:]...)
	return rm.snapshot(), true
}

// UpdateFile replaces the full content of fileID.
func (r *Registry) UpdateFile(roomID, connID, fileID, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.fileLocked(roomID, fileID)
	if f == nil {
		return false
	}
	f.Content = content
	f.LastModifiedBy = connID
	return true
}

// ChangeLanguage sets the language tag of fileID.
func (r *Registry) ChangeLanguage(roomID, connID, fileID, language string) (Snapshot, bool) {
	return r.mutateFile(roomID, fileID, func(f *types.FileRecord) {
		f.Language = language
		f.LastModifiedBy = connID
	})
}

// RenameFile sets the display name of fileID. Names may repeat within a room.
func (r *Registry) RenameFile(roomID, connID, fileID, name string) (Snapshot, bool) {
	return r.mutateFile(roomID, fileID, func(f *types.FileRecord) {
		f.Name = name
		f.LastModifiedBy = connID
	})
}

// File returns a copy of fileID in roomID.
func (r *Registry) File(roomID, fileID string) (types.FileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.fileLocked(roomID, fileID)
	if f == nil {
		return types.FileRecord{}, false
	}
	return *f, true
}

func (r *Registry) mutateFile(roomID, fileID string, apply func(*types.FileRecord)) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.fileLocked(roomID, fileID)
	if f == nil {
		return Snapshot{}, false
	}
	apply(f)
	return r.rooms[roomID].snapshot(), true
}

func (r *Registry) fileLocked(roomID, fileID string) *types.FileRecord {
	rm, exists := r.rooms[roomID]
	if !exists {
		return nil
	}
	i := rm.findFile(fileID)
	if i < 0 {
		return nil
	}
	return rm.files[i]
}

func (rm *Room) findFile(fileID string) int {
	for i, f := range rm.files {
		if f.ID == fileID {
			return i
		}
	}
	return -1
}

func (rm *Room) fileList() []types.FileRecord {
	list := make([]types.FileRecord, 0, len(rm.files))
	for _, f := range rm.files {
		list = append(list, *f)
	}
	return list
}

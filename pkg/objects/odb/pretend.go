package odb

import (
	"github.com/grivet-io/grivet/pkg/objects"
)

// pretendEntry is an object materialized purely for in-process read-back,
// never persisted.
type pretendEntry struct {
	// objectType is the object's type.
	objectType objects.Type
	// payload is the object's payload.
	payload []byte
}

// WritePretend registers an object in the in-memory pretend cache, making it
// readable within this process without writing it to disk. It returns the
// object's identifier.
func (d *DB) WritePretend(objectType objects.Type, payload []byte) objects.ID {
	id := objects.ComputeID(d.algorithm, objectType, payload)
	d.lock.Lock()
	if _, ok := d.pretend[id]; !ok {
		d.pretend[id] = &pretendEntry{
			objectType: objectType,
			payload:    append([]byte(nil), payload...),
		}
	}
	d.lock.Unlock()
	return id
}

// lookupPretend consults the pretend cache.
func (d *DB) lookupPretend(id objects.ID) (*pretendEntry, bool) {
	d.lock.Lock()
	entry, ok := d.pretend[id]
	d.lock.Unlock()
	return entry, ok
}

package engine

import (
	"sort"

	"github.com/kamstrup/intmap"

	"github.com/roach88/anchorsync/internal/ir"
)

type orphan struct {
	rec ir.EntityRecord
	seq int64 // receipt seq of the first buffered event
}

// orphanBuffer holds entity events whose anchor is not registered yet.
// Only the latest state per entity is kept. Owner goroutine only.
type orphanBuffer struct {
	byEntity *intmap.Map[ir.EntityID, *orphan]
	byAnchor *intmap.Map[ir.AnchorID, *intmap.Set[ir.EntityID]]
}

func newOrphanBuffer() *orphanBuffer {
	return &orphanBuffer{
		byEntity: intmap.New[ir.EntityID, *orphan](16),
		byAnchor: intmap.New[ir.AnchorID, *intmap.Set[ir.EntityID]](16),
	}
}

// put buffers rec, or folds it into the entry already buffered for the
// entity. Returns false if rec is not newer than the buffered entry.
func (b *orphanBuffer) put(rec ir.EntityRecord, seq int64) bool {
	if o, ok := b.byEntity.Get(rec.ID); ok {
		return b.supersede(o, rec)
	}
	rec.Data = cloneBytes(rec.Data)
	b.byEntity.Put(rec.ID, &orphan{rec: rec, seq: seq})
	b.index(rec.Anchor, rec.ID)
	return true
}

// supersede overwrites the buffered fields that rec carries. Records at or
// below the buffered version change nothing.
func (b *orphanBuffer) supersede(o *orphan, rec ir.EntityRecord) bool {
	if rec.Version <= o.rec.Version {
		return false
	}
	if rec.Anchor != 0 && rec.Anchor != o.rec.Anchor {
		b.unindex(o.rec.Anchor, o.rec.ID)
		o.rec.Anchor = rec.Anchor
		b.index(rec.Anchor, rec.ID)
	}
	if rec.Template != "" {
		o.rec.Template = rec.Template
	}
	o.rec.Local = rec.Local
	o.rec.Version = rec.Version
	if rec.Data != nil {
		o.rec.Data = cloneBytes(rec.Data)
	}
	return true
}

// updateData replaces the buffered payload only.
func (b *orphanBuffer) updateData(id ir.EntityID, data []byte) {
	if o, ok := b.byEntity.Get(id); ok {
		o.rec.Data = cloneBytes(data)
	}
}

func (b *orphanBuffer) get(id ir.EntityID) (ir.EntityRecord, bool) {
	o, ok := b.byEntity.Get(id)
	if !ok {
		return ir.EntityRecord{}, false
	}
	return o.rec, true
}

// remove discards the entry for id. Returns false if nothing was buffered.
func (b *orphanBuffer) remove(id ir.EntityID) bool {
	o, ok := b.byEntity.Get(id)
	if !ok {
		return false
	}
	b.byEntity.Del(id)
	b.unindex(o.rec.Anchor, id)
	return true
}

// take removes and returns every entry naming anchor, in receipt order,
// together with each entry's seq.
func (b *orphanBuffer) take(anchor ir.AnchorID) []orphan {
	ids, ok := b.byAnchor.Get(anchor)
	if !ok {
		return nil
	}
	out := make([]orphan, 0, ids.Len())
	ids.ForEach(func(id ir.EntityID) bool {
		if o, ok := b.byEntity.Get(id); ok {
			out = append(out, *o)
			b.byEntity.Del(id)
		}
		return true
	})
	b.byAnchor.Del(anchor)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (b *orphanBuffer) len() int {
	return b.byEntity.Len()
}

func (b *orphanBuffer) clear() {
	b.byEntity.Clear()
	b.byAnchor.Clear()
}

func (b *orphanBuffer) index(anchor ir.AnchorID, id ir.EntityID) {
	set, ok := b.byAnchor.Get(anchor)
	if !ok {
		set = intmap.NewSet[ir.EntityID](4)
		b.byAnchor.Put(anchor, set)
	}
	set.Add(id)
}

func (b *orphanBuffer) unindex(anchor ir.AnchorID, id ir.EntityID) {
	set, ok := b.byAnchor.Get(anchor)
	if !ok {
		return
	}
	set.Del(id)
	if set.Len() == 0 {
		b.byAnchor.Del(anchor)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

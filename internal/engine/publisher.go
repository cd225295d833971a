package engine

import (
	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
)

// Publisher receives every outbound change. Implemented by the native and
// cloud adapters.
//
// Calls are fire-and-forget: they are made on the owner goroutine and must
// not block on the network. Retrying or dropping a failed send is the
// publisher's concern.
type Publisher interface {
	PublishAnchor(id ir.AnchorID, p pose.Pose)
	PublishEntityAdd(rec ir.EntityRecord)
	PublishEntityRemove(rec ir.EntityRecord)
	PublishEntityPoseUpdate(rec ir.EntityRecord)
	PublishEntityDataUpdate(rec ir.EntityRecord)
}

// NopPublisher discards every publish.
type NopPublisher struct{}

func (NopPublisher) PublishAnchor(ir.AnchorID, pose.Pose) {}
func (NopPublisher) PublishEntityAdd(ir.EntityRecord) {}
func (NopPublisher) PublishEntityRemove(ir.EntityRecord) {}
func (NopPublisher) PublishEntityPoseUpdate(ir.EntityRecord) {}
func (NopPublisher) PublishEntityDataUpdate(ir.EntityRecord) {}

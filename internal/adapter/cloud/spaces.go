package cloud

import (
	"sort"

	"github.com/roach88/anchorsync/internal/pose"
)

// Space is the latest known mapping of one space.
type Space struct {
	ID      uint64
	Session uint64 // highest session seen; lower sessions are ignored
	Nodes   []VisibleNode
}

// nodePoses indexes the space's visible nodes by id.
func (s *Space) nodePoses() map[uint64]pose.Pose {
	out := make(map[uint64]pose.Pose, len(s.Nodes))
	for _, n := range s.Nodes {
		out[n.ID] = n.Pose.Pose()
	}
	return out
}

// root picks the node new anchors are parented to: the node sharing the
// space's id when visible, otherwise the lowest visible node id.
func (s *Space) root() (VisibleNode, bool) {
	if len(s.Nodes) == 0 {
		return VisibleNode{}, false
	}
	best := s.Nodes[0]
	for _, n := range s.Nodes {
		if n.ID == s.ID {
			return n, true
		}
		if n.ID < best.ID {
			best = n
		}
	}
	return best, true
}

// merge folds a space child into s. Returns true when a higher session than
// the one held replaced the node set.
func (s *Space) merge(sessions []session) (bool, error) {
	better := false
	var firstErr error
	for _, ss := range sessions {
		if ss.id <= s.Session {
			continue
		}
		v, err := DecodeSession(ss.raw)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.Session = ss.id
		s.Nodes = v.Nodes
		better = true
	}
	return better, firstErr
}

// SpaceInfo summarizes a space for listings.
type SpaceInfo struct {
	ID      uint64
	Session uint64
	Nodes   int
}

// sortSpaces orders spaces by visible node count, most first, then by id.
func sortSpaces(spaces map[uint64]*Space) []SpaceInfo {
	out := make([]SpaceInfo, 0, len(spaces))
	for _, s := range spaces {
		out = append(out, SpaceInfo{ID: s.ID, Session: s.Session, Nodes: len(s.Nodes)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Nodes != out[j].Nodes {
			return out[i].Nodes > out[j].Nodes
		}
		return out[i].ID < out[j].ID
	})
	return out
}

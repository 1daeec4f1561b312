package verifier

import (
	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
)

// ChangeKind classifies how an artifact differs between two packs.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
	ChangeMoved    ChangeKind = "moved"
)

// ArtifactChange is one entry of a pack diff. Indexes are -1 when the
// artifact is absent from that side.
type ArtifactChange struct {
	Label         string     `json:"label"`
	Kind          ChangeKind `json:"kind"`
	ExpectedIndex int        `json:"expectedIndex"`
	ActualIndex   int        `json:"actualIndex"`
	ExpectedHash  string     `json:"expectedHash,omitempty"`
	ActualHash    string     `json:"actualHash,omitempty"`
}

// Diff lists which artifacts of actual no longer match expected, matched by
// label. Entries follow expected's order, then additions in actual's order.
// An artifact whose hash changed is reported as modified even if it also moved.
func Diff(expected, actual *evidence.EvidencePack) []ArtifactChange {
	changes := make([]ArtifactChange, 0)
	actualIdx := make(map[string]int, len(actual.Index.Artifacts))
	for i, a := range actual.Index.Artifacts {
		if _, dup := actualIdx[a.Label]; !dup {
			actualIdx[a.Label] = i
		}
	}
	expectedLabels := make(map[string]bool, len(expected.Index.Artifacts))

	for i, e := range expected.Index.Artifacts {
		expectedLabels[e.Label] = true
		j, ok := actualIdx[e.Label]
		if !ok {
			changes = append(changes, ArtifactChange{Label: e.Label, Kind: ChangeRemoved, ExpectedIndex: i, ActualIndex: -1, ExpectedHash: e.ContentHash})
			continue
		}
		a := actual.Index.Artifacts[j]
		switch {
		case a.ContentHash != e.ContentHash || a.SizeBytes != e.SizeBytes || a.MimeType != e.MimeType:
			changes = append(changes, ArtifactChange{Label: e.Label, Kind: ChangeModified, ExpectedIndex: i, ActualIndex: j, ExpectedHash: e.ContentHash, ActualHash: a.ContentHash})
		case i != j:
			changes = append(changes, ArtifactChange{Label: e.Label, Kind: ChangeMoved, ExpectedIndex: i, ActualIndex: j, ExpectedHash: e.ContentHash, ActualHash: a.ContentHash})
		}
	}
	for j, a := range actual.Index.Artifacts {
		if !expectedLabels[a.Label] {
			changes = append(changes, ArtifactChange{Label: a.Label, Kind: ChangeAdded, ExpectedIndex: -1, ActualIndex: j, ActualHash: a.ContentHash})
		}
	}
	return changes
}

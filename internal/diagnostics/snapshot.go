// Package diagnostics renders a point-in-time view of an allocator's
// pools and free lists, in a semver-stamped JSON format so tooling
// built against one format version can detect when it needs to adapt
// to another.
package diagnostics

import (
	"encoding/json"
	"fmt"

	semver "github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/tlsf/internal/allocator"
)

// FormatVersion is the semver stamp written into every Snapshot, so
// consumers can machine-check compatibility instead of guessing at
// field meanings.
const FormatVersion = "1.0.0"

// BlockSnapshot describes one block as reported by allocator.WalkBlocks.
type BlockSnapshot struct {
	Pool   int    `json:"pool"`
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
	Free   bool   `json:"free"`
}

// Snapshot is the full diagnostic report for one Allocator.
type Snapshot struct {
	FormatVersion string                   `json:"format_version"`
	Stats         allocator.AllocatorStats `json:"stats"`
	Blocks        []BlockSnapshot          `json:"blocks,omitempty"`
}

// Capture builds a Snapshot from a's current state. Block-level detail
// is only collected when includeBlocks is set, since WalkBlocks visits
// every live block and a caller polling Stats() alone shouldn't pay
// for it.
func Capture(a *allocator.Allocator, includeBlocks bool) Snapshot {
	snap := Snapshot{
		FormatVersion: FormatVersion,
		Stats:         a.Stats(),
	}

	if includeBlocks {
		a.WalkBlocks(func(poolIndex int, offset, size uint32, free bool) {
			snap.Blocks = append(snap.Blocks, BlockSnapshot{
				Pool:   poolIndex,
				Offset: offset,
				Size:   size,
				Free:   free,
			})
		})
	}

	return snap
}

// MarshalJSON renders the snapshot as indented JSON: stable, readable
// output over compactness.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot // avoid recursing into this MarshalJSON

	return json.MarshalIndent(alias(s), "", "  ")
}

// SatisfiesFormat reports whether this snapshot's format version
// satisfies a semver constraint (e.g. "^1.0.0"), so a consumer built
// against one major format version can refuse to parse an
// incompatible one instead of guessing at field meanings.
func (s Snapshot) SatisfiesFormat(constraint string) (bool, error) {
	v, err := semver.NewVersion(s.FormatVersion)
	if err != nil {
		return false, fmt.Errorf("tlsf/diagnostics: parse snapshot format version %q: %w", s.FormatVersion, err)
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("tlsf/diagnostics: parse constraint %q: %w", constraint, err)
	}

	return c.Check(v), nil
}

// FormatLeaks renders a human-readable leak report: every block still
// allocated at capture time, keyed by pool and offset.
func FormatLeaks(snap Snapshot) string {
	if len(snap.Blocks) == 0 {
		return "no block-level detail captured (Capture was called with includeBlocks=false)"
	}

	out := fmt.Sprintf("active allocations: %d, bytes in use: %d\n", snap.Stats.ActiveAllocations, snap.Stats.BytesInUse)

	for _, b := range snap.Blocks {
		if b.Free {
			continue
		}

		out += fmt.Sprintf("  pool %d offset %d: %d bytes\n", b.Pool, b.Offset, b.Size)
	}

	return out
}

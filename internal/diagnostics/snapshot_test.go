package diagnostics

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/orizon-lang/tlsf/internal/allocator"
)

func newTestAllocator(t *testing.T) *allocator.Allocator {
	t.Helper()

	a, err := allocator.New(allocator.NewHeapProvider())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return a
}

func TestCaptureStatsOnly(t *testing.T) {
	a := newTestAllocator(t)

	if _, err := a.Allocate(256); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	snap := Capture(a, false)

	if snap.FormatVersion != FormatVersion {
		t.Fatalf("FormatVersion = %q, want %q", snap.FormatVersion, FormatVersion)
	}

	if snap.Stats.ActiveAllocations != 1 {
		t.Fatalf("ActiveAllocations = %d, want 1", snap.Stats.ActiveAllocations)
	}

	if snap.Blocks != nil {
		t.Fatalf("Blocks should be nil when includeBlocks is false, got %d entries", len(snap.Blocks))
	}
}

func TestCaptureIncludesBlocks(t *testing.T) {
	a := newTestAllocator(t)

	if _, err := a.Allocate(256); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	snap := Capture(a, true)

	// One allocated block plus the free remainder of the pool.
	if len(snap.Blocks) != 2 {
		t.Fatalf("captured %d blocks, want 2", len(snap.Blocks))
	}

	var total uint32
	for _, b := range snap.Blocks {
		total += b.Size
	}

	if total != a.Config().PoolSize {
		t.Fatalf("block sizes sum to %d, want the full pool size %d", total, a.Config().PoolSize)
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	a := newTestAllocator(t)

	if _, err := a.Allocate(64); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	data, err := json.Marshal(Capture(a, true))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded struct {
		FormatVersion string `json:"format_version"`
	}

	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.FormatVersion != FormatVersion {
		t.Fatalf("round-tripped format version = %q, want %q", decoded.FormatVersion, FormatVersion)
	}
}

func TestSatisfiesFormat(t *testing.T) {
	snap := Snapshot{FormatVersion: FormatVersion}

	ok, err := snap.SatisfiesFormat("^1.0.0")
	if err != nil {
		t.Fatalf("SatisfiesFormat: %v", err)
	}

	if !ok {
		t.Fatalf("version %s should satisfy ^1.0.0", FormatVersion)
	}

	ok, err = snap.SatisfiesFormat("^2.0.0")
	if err != nil {
		t.Fatalf("SatisfiesFormat: %v", err)
	}

	if ok {
		t.Fatalf("version %s should not satisfy ^2.0.0", FormatVersion)
	}
}

func TestSatisfiesFormatRejectsGarbageVersion(t *testing.T) {
	snap := Snapshot{FormatVersion: "not-a-version"}

	if _, err := snap.SatisfiesFormat("^1.0.0"); err == nil {
		t.Fatal("SatisfiesFormat should reject an unparseable snapshot version")
	}
}

func TestFormatLeaksListsAllocatedBlocksOnly(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Allocate(512)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	report := FormatLeaks(Capture(a, true))
	if !strings.Contains(report, "active allocations: 1") {
		t.Fatalf("leak report missing the active-allocation count:\n%s", report)
	}

	if err := a.Deallocate(p); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	report = FormatLeaks(Capture(a, true))
	if !strings.Contains(report, "active allocations: 0") {
		t.Fatalf("leak report should show zero active allocations after the free:\n%s", report)
	}

	if strings.Contains(report, "offset") {
		t.Fatalf("leak report should list no blocks once everything is freed:\n%s", report)
	}
}

package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
)

func TestExportRoundTrip(t *testing.T) {
	trail, clk, _ := newTestTrail(t)
	for _, id := range []string{"req-1", "req-2", "req-3"} {
		_, err := trail.Record(sampleRequest(id, contracts.ActionQueryStatus, "a"), okResult(id), agent("a", contracts.ClearanceL0), nil)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	raw, err := trail.ExportJSON()
	require.NoError(t, err)

	parsed, err := ParseExport([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, contracts.ExportFormatVersion, parsed.FormatVersion)
	assert.Equal(t, trail.GenesisHash(), parsed.GenesisHash)
	assert.Equal(t, 3, parsed.EntryCount)
	assert.True(t, parsed.ChainValid)

	original := trail.All()
	require.Len(t, parsed.Entries, 3)
	for i := range original {
		assert.Equal(t, original[i].EntryHash, parsed.Entries[i].EntryHash)
		assert.Equal(t, original[i].ImmutableProof, parsed.Entries[i].ImmutableProof)
	}

	// The parsed export re-verifies offline with the snapshotted config.
	ok, _, err := VerifyExport(parsed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExportEmptyTrailRoundTrip(t *testing.T) {
	trail, _, _ := newTestTrail(t)

	raw, err := trail.ExportJSON()
	require.NoError(t, err)
	assert.Contains(t, raw, `"entries": []`)

	parsed, err := ParseExport([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.EntryCount)
	assert.True(t, parsed.ChainValid)

	ok, _, err := VerifyExport(parsed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExportOmitsOverrideKey(t *testing.T) {
	cfg := contracts.DefaultGovernanceConfig()
	cfg.EmergencyOverrideKey = "hunter2"
	trail, err := NewTrail(cfg, clock.NewVirtual(time.Unix(0, 0)), nil)
	require.NoError(t, err)

	raw, err := trail.ExportJSON()
	require.NoError(t, err)
	assert.NotContains(t, raw, "hunter2")
}

func TestExportOfTamperedTrail(t *testing.T) {
	trail, _, _ := newTestTrail(t)
	trail.Record(sampleRequest("req-1", contracts.ActionQueryStatus, "a"), okResult("req-1"), agent("a", contracts.ClearanceL0), nil)
	trail.Record(sampleRequest("req-2", contracts.ActionQueryStatus, "a"), okResult("req-2"), agent("a", contracts.ClearanceL0), nil)

	trail.entries[0].EntryHash = "deadbeef" + trail.entries[0].EntryHash[8:]

	export := trail.Export()
	assert.False(t, export.ChainValid)

	ok, reason, err := VerifyExport(&export)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, contracts.TamperEntryHashMismatch, reason)
}

func TestParseExportRejectsGarbage(t *testing.T) {
	_, err := ParseExport([]byte(`{"entries": "not-an-array"}`))
	assert.Error(t, err)

	_, err = ParseExport([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseExportRejectsFutureMajor(t *testing.T) {
	trail, _, _ := newTestTrail(t)
	export := trail.Export()
	export.FormatVersion = "2.0.0"
	raw, err := json.Marshal(export)
	require.NoError(t, err)

	_, err = ParseExport(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format version")
}

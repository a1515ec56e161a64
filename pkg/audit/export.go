package audit

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
)

// exportSchema validates the shape of the compliance artifact. Consumers
// that re-verify exports offline check against the same schema.
const exportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["format_version", "genesis_hash", "entry_count", "config", "entries", "chain_valid"],
  "properties": {
    "format_version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
    "genesis_hash": {"type": "string", "pattern": "^[0-9a-f]+$"},
    "entry_count": {"type": "integer", "minimum": 0},
    "chain_valid": {"type": "boolean"},
    "config": {"type": "object"},
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "timestamp", "sequence", "action_request", "action_result", "agent", "previous_hash", "entry_hash", "immutable_proof"],
        "properties": {
          "sequence": {"type": "integer", "minimum": 1},
          "previous_hash": {"type": "string", "pattern": "^[0-9a-f]+$"},
          "entry_hash": {"type": "string", "pattern": "^[0-9a-f]+$"},
          "immutable_proof": {"type": "string", "pattern": "^[0-9a-f]+$"}
        }
      }
    }
  }
}`

var compiledExportSchema = jsonschema.MustCompileString("audit-export.schema.json", exportSchema)

// acceptedFormat accepts any export within the current major version.
var acceptedFormat = mustConstraint("^" + contracts.ExportFormatVersion)

func mustConstraint(c string) *semver.Constraints {
	parsed, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return parsed
}

// Export snapshots the trail into the compliance artifact. ChainValid is
// computed at export time; a tampered trail exports with chain_valid=false
// (and the verification walk emits its tamper event).
func (t *Trail) Export() contracts.AuditExport {
	t.mu.Lock()
	defer t.mu.Unlock()

	cfg := t.cfg
	cfg.EmergencyOverrideKey = "" // never leaves the process

	// Non-nil even when empty: the schema requires "entries" to be an
	// array, and a nil slice marshals as null.
	entries := make([]contracts.AuditEntry, len(t.entries))
	copy(entries, t.entries)

	return contracts.AuditExport{
		FormatVersion: contracts.ExportFormatVersion,
		GenesisHash:   t.genesis,
		EntryCount:    len(t.entries),
		Config:        cfg,
		Entries:       entries,
		ChainValid:    t.verifyLocked(),
	}
}

// ExportJSON renders the export as indented JSON.
func (t *Trail) ExportJSON() (string, error) {
	out, err := json.MarshalIndent(t.Export(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: export marshal failed: %w", err)
	}
	return string(out), nil
}

// ParseExport validates raw export JSON against the schema and the accepted
// format version, then decodes it.
func ParseExport(raw []byte) (*contracts.AuditExport, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("audit: export is not valid JSON: %w", err)
	}
	if err := compiledExportSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("audit: export failed schema validation: %w", err)
	}

	var export contracts.AuditExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("audit: export decode failed: %w", err)
	}

	version, err := semver.NewVersion(export.FormatVersion)
	if err != nil {
		return nil, fmt.Errorf("audit: bad format version %q: %w", export.FormatVersion, err)
	}
	if !acceptedFormat.Check(version) {
		return nil, fmt.Errorf("audit: unsupported export format version %s", export.FormatVersion)
	}
	return &export, nil
}

// VerifyExport re-runs the chain verification over a parsed export using
// the algorithm recorded in its config snapshot. It is the offline
// counterpart of VerifyChain and emits no events.
func VerifyExport(export *contracts.AuditExport) (bool, contracts.TamperReason, error) {
	scratch, err := NewTrail(export.Config, clock.Wall(), nil)
	if err != nil {
		return false, "", err
	}
	prev := export.GenesisHash
	for i := range export.Entries {
		e := &export.Entries[i]
		if e.PreviousHash != prev {
			return false, contracts.TamperPreviousHashMismatch, nil
		}
		computed, err := scratch.entryHash(e)
		if err != nil {
			return false, "", err
		}
		if computed != e.EntryHash {
			return false, contracts.TamperEntryHashMismatch, nil
		}
		proof, err := scratch.proof(e)
		if err != nil {
			return false, "", err
		}
		if proof != e.ImmutableProof {
			return false, contracts.TamperProofMismatch, nil
		}
		prev = e.EntryHash
	}
	return true, "", nil
}

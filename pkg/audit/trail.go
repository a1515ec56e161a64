// Package audit implements the append-only, hash-chained governance trail.
//
// Chain arithmetic:
//
//	entryHash      = H(JCS(entry with entry_hash and immutable_proof removed))
//	immutableProof = H(JCS({entry_hash, previous_hash, sequence, timestamp}))
//	genesisHash    = H(JCS({created_at, hash_algorithm, retention_days}))
//
// The entry hash commits to every serialized field of the entry — request
// (payload included), result, agent, approval reference, sequence, and the
// previous-hash link — so flipping any bit of a past entry breaks the
// chain walk. Keys are JCS-ordered (lexicographic); the entry timestamp is
// ISO-8601 UTC with millisecond precision so it survives an export/parse
// round trip byte-identically. This layout is the wire contract for audit
// portability — see pkg/canonicalize.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/canonicalize"
	"github.com/wardenlabs/warden/pkg/clock"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/events"
)

// Trail is the in-memory chain. Appends are serialized under one mutex so
// sequence numbers are dense and strictly monotonic from 1.
type Trail struct {
	mu       sync.Mutex
	cfg      contracts.GovernanceConfig
	hasher   *canonicalize.Hasher
	clk      clock.Clock
	bus      *events.Bus
	genesis  string
	entries  []contracts.AuditEntry
	recorded map[string]struct{} // action request ids already audited
}

// NewTrail builds a trail whose genesis hash commits to the configuration.
func NewTrail(cfg contracts.GovernanceConfig, clk clock.Clock, bus *events.Bus) (*Trail, error) {
	hasher, err := canonicalize.NewHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	now := clk.Now()
	genesis, err := hasher.HashCanonical(map[string]any{
		"hash_algorithm": string(cfg.HashAlgorithm),
		"retention_days": cfg.AuditRetentionDays,
		"created_at":     canonicalize.ISOMillis(now),
	})
	if err != nil {
		return nil, err
	}
	return &Trail{
		cfg:      cfg,
		hasher:   hasher,
		clk:      clk,
		bus:      bus,
		genesis:  genesis,
		recorded: make(map[string]struct{}),
	}, nil
}

// GenesisHash returns the configuration commitment that anchors entry 1.
func (t *Trail) GenesisHash() string { return t.genesis }

// Len returns the number of entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Record appends one entry and returns a copy of it. With immutable audit
// enabled it refuses a second primary entry for the same action request and
// refuses a successful L2 entry whose approval is absent or not APPROVED.
func (t *Trail) Record(req contracts.ActionRequest, res contracts.ActionResult, agent contracts.AgentIdentity, approval *contracts.ApprovalRequest) (*contracts.AuditEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.EnableImmutableAudit {
		if _, dup := t.recorded[req.ID]; dup {
			return nil, contracts.Errorf(contracts.CodeAlreadyExecuted,
				"action request %s is already the primary action of an audit entry", req.ID)
		}
		if required, ok := contracts.RequiredClearance(req.Kind); ok && required == contracts.ClearanceL2 && res.Success {
			if approval == nil || approval.State != contracts.ApprovalApproved {
				return nil, contracts.Errorf(contracts.CodeEnforcementRejected,
					"successful %s entry requires an APPROVED approval reference", req.Kind)
			}
		}
	}

	seq := uint64(len(t.entries)) + 1
	prev := t.genesis
	if len(t.entries) > 0 {
		prev = t.entries[len(t.entries)-1].EntryHash
	}

	// Millisecond precision: the stored timestamp must survive an
	// export/parse round trip and still hash identically.
	now := t.clk.Now().UTC().Truncate(time.Millisecond)

	entry := contracts.AuditEntry{
		ID:           uuid.New().String(),
		Timestamp:    now,
		Sequence:     seq,
		Request:      req,
		Result:       res,
		Agent:        agent,
		Approval:     approval.Clone(),
		PreviousHash: prev,
	}

	entryHash, err := t.entryHash(&entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = entryHash

	proof, err := t.proof(&entry)
	if err != nil {
		return nil, err
	}
	entry.ImmutableProof = proof

	t.entries = append(t.entries, entry)
	t.recorded[req.ID] = struct{}{}

	out := entry
	return &out, nil
}

func (t *Trail) entryHash(e *contracts.AuditEntry) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: entry marshal failed: %w", err)
	}
	// Raw messages keep every field's serialized bytes untouched, so the
	// hash input is identical for an in-memory entry and the same entry
	// after an export/parse round trip.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("audit: entry re-decode failed: %w", err)
	}
	delete(fields, "entry_hash")
	delete(fields, "immutable_proof")
	return t.hasher.HashCanonical(fields)
}

func (t *Trail) proof(e *contracts.AuditEntry) (string, error) {
	return t.hasher.HashCanonical(map[string]any{
		"entry_hash":    e.EntryHash,
		"previous_hash": e.PreviousHash,
		"sequence":      e.Sequence,
		"timestamp":     canonicalize.ISOMillis(e.Timestamp),
	})
}

// VerifyChain walks every entry checking linkage, entry hash, and proof.
// The first mismatch emits one audit-tamper-detected event at critical
// severity and stops the walk.
func (t *Trail) VerifyChain() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.verifyLocked()
}

func (t *Trail) verifyLocked() bool {
	prev := t.genesis
	for i := range t.entries {
		e := &t.entries[i]

		if e.PreviousHash != prev {
			t.emitTamper(e, contracts.TamperPreviousHashMismatch)
			return false
		}

		computed, err := t.entryHash(e)
		if err != nil || computed != e.EntryHash {
			t.emitTamper(e, contracts.TamperEntryHashMismatch)
			return false
		}

		proof, err := t.proof(e)
		if err != nil || proof != e.ImmutableProof {
			t.emitTamper(e, contracts.TamperProofMismatch)
			return false
		}

		prev = e.EntryHash
	}
	return true
}

func (t *Trail) emitTamper(e *contracts.AuditEntry, reason contracts.TamperReason) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.New(
		contracts.EventAuditTamperDetected,
		contracts.SeverityCritical,
		t.clk.Now(),
		e.Request.ID,
		map[string]any{
			"reason":   string(reason),
			"sequence": e.Sequence,
			"entry_id": e.ID,
		},
	))
}

// Get returns the entry with the given id.
func (t *Trail) Get(id string) (*contracts.AuditEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].ID == id {
			out := t.entries[i]
			return &out, true
		}
	}
	return nil, false
}

// All returns a snapshot of every entry in sequence order.
func (t *Trail) All() []contracts.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]contracts.AuditEntry(nil), t.entries...)
}

// ByAction returns entries whose primary action has the given kind.
func (t *Trail) ByAction(kind contracts.ActionKind) []contracts.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []contracts.AuditEntry
	for _, e := range t.entries {
		if e.Request.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// ByAgent returns entries recorded for the given agent id.
func (t *Trail) ByAgent(agentID string) []contracts.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []contracts.AuditEntry
	for _, e := range t.entries {
		if e.Agent.ID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// ByTimeRange returns entries with start <= timestamp <= end.
func (t *Trail) ByTimeRange(start, end time.Time) []contracts.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []contracts.AuditEntry
	for _, e := range t.entries {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LatestAnchor returns the newest entry hash, or the genesis hash for an
// empty trail. External timestamping services anchor against this value.
func (t *Trail) LatestAnchor() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == 0 {
		return t.genesis
	}
	return t.entries[len(t.entries)-1].EntryHash
}

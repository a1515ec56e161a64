package contracts

import "fmt"

// AgentIdentity identifies the autonomous requester of an action.
// The public key is opaque to the kernel; verification is a collaborator
// concern.
type AgentIdentity struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Clearance ClearanceLevel `json:"clearance"`
	SessionID string         `json:"session_id,omitempty"`
	PublicKey []byte         `json:"public_key,omitempty"`
}

// ApproverIdentity identifies a human operator who may decide approval
// requests. Approvers must hold L2 clearance; use NewApprover to construct.
type ApproverIdentity struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Clearance ClearanceLevel `json:"clearance"`
	Contact   string         `json:"contact,omitempty"`
	PublicKey []byte         `json:"public_key,omitempty"`
}

// NewApprover builds an L2 approver identity. It fails with
// CodeInsufficientApproverClearance for any other level.
func NewApprover(id, name string, clearance ClearanceLevel, contact string, publicKey []byte) (ApproverIdentity, error) {
	a := ApproverIdentity{
		ID:        id,
		Name:      name,
		Clearance: clearance,
		Contact:   contact,
		PublicKey: publicKey,
	}
	if err := a.Validate(); err != nil {
		return ApproverIdentity{}, err
	}
	return a, nil
}

// Validate checks the L2 requirement. The registry re-validates on
// registration so identities constructed by hand cannot bypass the gate.
func (a ApproverIdentity) Validate() error {
	if a.ID == "" {
		return NewError(CodeInsufficientApproverClearance, "approver id must not be empty")
	}
	if a.Clearance != ClearanceL2 {
		return NewError(CodeInsufficientApproverClearance,
			fmt.Sprintf("approver %s holds %s, approvers must hold %s", a.ID, a.Clearance, ClearanceL2))
	}
	return nil
}

package workflow

import (
	"fmt"
	"strings"

	"github.com/BaSui01/nodeflow/types"
)

// IssueCode identifies a validation rule.
type IssueCode string

// Blocking issue codes.
const (
	IssueMissingWorkflowID    IssueCode = "MISSING_WORKFLOW_ID"
	IssueMissingWorkflowName  IssueCode = "MISSING_WORKFLOW_NAME"
	IssueEmptyWorkflow        IssueCode = "EMPTY_WORKFLOW"
	IssueMissingNodeID        IssueCode = "MISSING_NODE_ID"
	IssueMissingNodeType      IssueCode = "MISSING_NODE_TYPE"
	IssueUnknownNodeType      IssueCode = "UNKNOWN_NODE_TYPE"
	IssueDuplicateNodeID      IssueCode = "DUPLICATE_NODE_ID"
	IssueInvalidSlots         IssueCode = "INVALID_SLOTS"
	IssueInvalidSlotType      IssueCode = "INVALID_SLOT_TYPE"
	IssueDuplicateSlot        IssueCode = "DUPLICATE_SLOT"
	IssueInvalidNodeConfig    IssueCode = "INVALID_NODE_CONFIG"
	IssueMissingSourceNode    IssueCode = "MISSING_SOURCE_NODE"
	IssueMissingTargetNode    IssueCode = "MISSING_TARGET_NODE"
	IssueMissingSourceSlot    IssueCode = "MISSING_SOURCE_SLOT"
	IssueMissingTargetSlot    IssueCode = "MISSING_TARGET_SLOT"
	IssueTypeMismatch         IssueCode = "TYPE_MISMATCH"
	IssueMultipleConnections  IssueCode = "MULTIPLE_CONNECTIONS"
	IssueInvalidBinding       IssueCode = "INVALID_BINDING"
	IssueDuplicateBinding     IssueCode = "DUPLICATE_BINDING"
	IssueInvalidOutput        IssueCode = "INVALID_OUTPUT"
	IssueDuplicateOutput      IssueCode = "DUPLICATE_OUTPUT"
	IssueMissingRequiredInput IssueCode = "MISSING_REQUIRED_INPUT"
	IssueCircularDependency   IssueCode = "CIRCULAR_DEPENDENCY"
)

// Advisory issue codes.
const (
	IssueUnusedNode        IssueCode = "UNUSED_NODE"
	IssueUnusedOutput      IssueCode = "UNUSED_OUTPUT"
	IssueHighCostNode      IssueCode = "HIGH_COST_NODE"
	IssueOversizedWorkflow IssueCode = "OVERSIZED_WORKFLOW"
)

// ValidationIssue is one violated rule, with enough context to locate it.
type ValidationIssue struct {
	Code       IssueCode   `json:"code"`
	Message    string      `json:"message"`
	NodeID     string      `json:"node_id,omitempty"`
	Slot       string      `json:"slot,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
	Path       []string    `json:"path,omitempty"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// ValidationResult holds blocking errors and advisory warnings. Valid is true
// iff Errors is empty.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// HasError reports whether an error with code exists.
func (r *ValidationResult) HasError(code IssueCode) bool {
	return findIssue(r.Errors, code) != nil
}

// HasWarning reports whether a warning with code exists.
func (r *ValidationResult) HasWarning(code IssueCode) bool {
	return findIssue(r.Warnings, code) != nil
}

// ErrorsWithCode returns the errors carrying code.
func (r *ValidationResult) ErrorsWithCode(code IssueCode) []ValidationIssue {
	var out []ValidationIssue
	for _, i := range r.Errors {
		if i.Code == code {
			out = append(out, i)
		}
	}
	return out
}

func findIssue(issues []ValidationIssue, code IssueCode) *ValidationIssue {
	for i := range issues {
		if issues[i].Code == code {
			return &issues[i]
		}
	}
	return nil
}

// ErrValidationFailed matches every *ValidationError via errors.Is.
var ErrValidationFailed = types.ErrValidationFailed

// ValidationError is returned by the executor when a definition does not
// validate. No node has been invoked.
type ValidationError struct {
	WorkflowID string
	Issues     []ValidationIssue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		msgs = append(msgs, i.String())
	}
	return fmt.Sprintf("workflow %q failed validation with %d error(s): %s",
		e.WorkflowID, len(e.Issues), strings.Join(msgs, "; "))
}

// Unwrap exposes the VALIDATION_FAILED code.
func (e *ValidationError) Unwrap() error {
	return types.ErrValidationFailed
}

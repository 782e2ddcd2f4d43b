package domain

// ProposalStatus is the lifecycle field of a Proposal.
type ProposalStatus string

const (
	ProposalDraft                ProposalStatus = "draft"
	ProposalPreIssue             ProposalStatus = "pre_issue"
	ProposalIssuedPendingPayment ProposalStatus = "issued_pending_payment"
	ProposalPaid                 ProposalStatus = "paid"
	ProposalCancelled            ProposalStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalPaid || s == ProposalCancelled
}

// SignatureStatus is shared by SignatureRequest.Status and Policy.SignatureStatus.
type SignatureStatus string

const (
	SignaturePending         SignatureStatus = "pending"
	SignatureGenerating      SignatureStatus = "generating"
	SignatureSent            SignatureStatus = "sent"
	SignatureSigned          SignatureStatus = "signed"
	SignatureCancelled       SignatureStatus = "cancelled"
	SignaturePartiallySigned SignatureStatus = "partially_signed"
)

// Terminal: signed and cancelled never change again.
func (s SignatureStatus) Terminal() bool {
	return s == SignatureSigned || s == SignatureCancelled
}

// SignatureStep is the last provider step a SignatureRequest completed.
type SignatureStep string

const (
	StepNone       SignatureStep = "none"
	StepUploaded   SignatureStep = "uploaded"
	StepSigners    SignatureStep = "signers"
	StepFields     SignatureStep = "fields"
	StepDispatched SignatureStep = "dispatched"
	StepDownloaded SignatureStep = "downloaded"
)

var stepOrder = map[SignatureStep]int{
	StepNone:       0,
	StepUploaded:   1,
	StepSigners:    2,
	StepFields:     3,
	StepDispatched: 4,
	StepDownloaded: 5,
}

// Reached reports whether s is at or past other.
func (s SignatureStep) Reached(other SignatureStep) bool {
	return stepOrder[s] >= stepOrder[other]
}

// Roles of the authenticated principal.
const (
	RoleBroker   = "broker"
	RoleAdvisory = "advisory"
	RoleAdmin    = "admin"
)

package proposals

import "apolice-backend/internal/domain"

var transitions = map[domain.ProposalStatus][]domain.ProposalStatus{
	domain.ProposalDraft:                {domain.ProposalPreIssue, domain.ProposalCancelled},
	domain.ProposalPreIssue:             {domain.ProposalIssuedPendingPayment, domain.ProposalCancelled},
	domain.ProposalIssuedPendingPayment: {domain.ProposalPaid},
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
func CanTransition(from, to domain.ProposalStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

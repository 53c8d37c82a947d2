package deal

// Phase is the engine's reading of a CRM status label.  The CRM owns the
// transitions; Phase only interprets a snapshot.
type Phase string

const (
	PhaseUnderReview Phase = "UNDER_REVIEW"
	PhaseApproved    Phase = "APPROVED"
	PhaseRejected    Phase = "REJECTED"
	PhaseOther       Phase = "OTHER"
)

// CRM status labels recognised by Classify.  Matching is exact.
const (
	StatusUnderReview = "Заявка на рассмотрение"
	StatusApproved    = "Заявка одобрена"
	StatusRejected    = "Заявка отклонена"
)

// Classify maps a status label to its Phase.  Unknown labels are PhaseOther.
func Classify(statusName string) Phase {
	switch statusName {
	case StatusUnderReview:
		return PhaseUnderReview
	case StatusApproved:
		return PhaseApproved
	case StatusRejected:
		return PhaseRejected
	default:
		return PhaseOther
	}
}

func hasPhase(deals []Deal, p Phase) bool {
	for i := range deals {
		if deals[i].Phase == p {
			return true
		}
	}
	return false
}

// HasRejected reports whether any deal is rejected.
func HasRejected(deals []Deal) bool { return hasPhase(deals, PhaseRejected) }

// HasApproved reports whether any deal is approved.
func HasApproved(deals []Deal) bool { return hasPhase(deals, PhaseApproved) }

// SubmissionOpen reports whether the client may file a new application: once
// any deal has been approved or rejected the gate stays closed.
func SubmissionOpen(deals []Deal) bool {
	return !HasRejected(deals) && !HasApproved(deals)
}

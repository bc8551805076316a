package registry

import "errors"

// OutcomeKind classifies one registry exchange for the delivery state
// machine: Transient leaves the row where it is, Rejected advances it to a
// failure state, Fatal aborts the whole pass.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeRejected
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeRejected:
		return "rejected"
	default:
		return "fatal"
	}
}

// Classify maps an error from a client call onto an outcome kind. 401 and 403
// mean the token or project id is wrong, which no retry will fix.
func Classify(err error) OutcomeKind {
	if err == nil {
		return OutcomeSuccess
	}
	var te *TransportError
	if errors.As(err, &te) {
		return OutcomeTransient
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return OutcomeTransient
	}
	var ae *APIError
	if errors.As(err, &ae) {
		if ae.StatusCode == 401 || ae.StatusCode == 403 {
			return OutcomeFatal
		}
		return OutcomeRejected
	}
	return OutcomeRejected
}

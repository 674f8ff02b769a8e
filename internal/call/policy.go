package call

import "fmt"

// Initiates reports whether the local participant wins offer collisions
// toward remote: either side may offer, but when both hold a pending offer
// for each other the lexicographically lesser id keeps its offer and the
// greater rolls back and answers. The order is total and symmetric, so every
// collision has exactly one winner.
func Initiates(local, remote string) bool {
	return local < remote
}

// LinkState is the explicit negotiation state of one peer link.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkStable
	LinkHaveLocalOffer
	LinkHaveRemoteOffer
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkStable:
		return "stable"
	case LinkHaveLocalOffer:
		return "have-local-offer"
	case LinkHaveRemoteOffer:
		return "have-remote-offer"
	case LinkClosed:
		return "closed"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// validTransitions is the exhaustive transition table. A link must pass
// stable → have-local-offer|have-remote-offer → stable and never get stuck;
// anything else is rejected rather than silently ignored.
var validTransitions = map[LinkState][]LinkState{
	LinkNew:             {LinkStable, LinkClosed},
	LinkStable:          {LinkHaveLocalOffer, LinkHaveRemoteOffer, LinkClosed},
	LinkHaveLocalOffer:  {LinkStable, LinkClosed},
	LinkHaveRemoteOffer: {LinkStable, LinkClosed},
	LinkClosed:          {},
}

// checkTransition validates cur → next.
func checkTransition(cur, next LinkState) error {
	for _, ok := range validTransitions[cur] {
		if next == ok {
			return nil
		}
	}
	return WrapError("link transition", ErrBadTransition, fmt.Sprintf("%s -> %s", cur, next))
}

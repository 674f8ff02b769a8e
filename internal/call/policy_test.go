package call

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestInitiatesExactlyOneSide(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"0001", "zzzz"},
		{"7c9e6679", "e02b2c3d"},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		test.That(t, Initiates(a, b), test.ShouldNotEqual, Initiates(b, a))
		// Deterministic regardless of how often it is asked.
		test.That(t, Initiates(a, b), test.ShouldEqual, Initiates(a, b))
	}

	test.That(t, Initiates("same", "same"), test.ShouldBeFalse)
	test.That(t, Initiates("a", "b"), test.ShouldBeTrue)
	test.That(t, Initiates("b", "a"), test.ShouldBeFalse)
}

func TestLinkTransitionTable(t *testing.T) {
	allowed := [][2]LinkState{
		{LinkNew, LinkStable},
		{LinkNew, LinkClosed},
		{LinkStable, LinkHaveLocalOffer},
		{LinkStable, LinkHaveRemoteOffer},
		{LinkStable, LinkClosed},
		{LinkHaveLocalOffer, LinkStable},
		{LinkHaveLocalOffer, LinkClosed},
		{LinkHaveRemoteOffer, LinkStable},
		{LinkHaveRemoteOffer, LinkClosed},
	}
	for _, tr := range allowed {
		test.That(t, checkTransition(tr[0], tr[1]), test.ShouldBeNil)
	}

	rejected := [][2]LinkState{
		{LinkNew, LinkHaveLocalOffer},
		{LinkNew, LinkHaveRemoteOffer},
		{LinkStable, LinkNew},
		{LinkHaveLocalOffer, LinkHaveRemoteOffer},
		{LinkHaveRemoteOffer, LinkHaveLocalOffer},
		{LinkClosed, LinkStable},
		{LinkClosed, LinkNew},
	}
	for _, tr := range rejected {
		err := checkTransition(tr[0], tr[1])
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, ErrBadTransition), test.ShouldBeTrue)
	}
}

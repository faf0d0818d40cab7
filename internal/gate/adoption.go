package gate

import "math"

// Voter is an end user polled during adoption.
type Voter interface {
	// Vote reports whether perceived utility, quality plus the environmental
	// signal, clears the voter's threshold.
	Vote(quality, signal float64) bool
}

// Ballot is the result of polling a sample of voters.
type Ballot struct {
	Yes    int
	Cast   int
	Passed bool
}

// SampleSize returns max(1, floor(n*fraction)), or 0 when n is 0.
func (e *Engine) SampleSize(n int) int {
	if n <= 0 {
		return 0
	}
	k := int(math.Floor(float64(n) * e.cfg.AdoptionSampleFraction))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Poll samples distinct voters with the engine generator and counts yes
// votes. The vote passes when yes >= max(1, k/2). No voters means a failed
// vote.
func (e *Engine) Poll(s Subject, env Environment, voters []Voter) Ballot {
	n := len(voters)
	k := e.SampleSize(n)
	if k == 0 {
		return Ballot{}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	signal := env.Signal()
	yes := 0
	for i := 0; i < k; i++ {
		j := i + e.rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
		if voters[idx[i]].Vote(s.Quality, signal) {
			yes++
		}
	}

	need := k / 2
	if need < 1 {
		need = 1
	}
	return Ballot{Yes: yes, Cast: k, Passed: yes >= need}
}

// Adoption polls voters and draws the adoption gate.
func (e *Engine) Adoption(s Subject, env Environment, voters []Voter) Decision {
	ballot := e.Poll(s, env, voters)
	d := e.decide(e.AdoptionProbability(s, env, ballot.Passed), s, env)
	d.VotesYes = ballot.Yes
	d.VotesCast = ballot.Cast
	return d
}

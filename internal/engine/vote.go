package engine

// voteWeight computes a voter's weight for the day-lynch tally (§4.8):
// the captain carries weight 2, an Idiot already revealed by a prior
// lynch-override carries weight 0, everyone else carries weight 1 (I7).
func (g *Game) voteWeight(voterID string) int {
	if voterID == g.CaptainID {
		return 2
	}
	if p, ok := g.Players[voterID]; ok && p.IdiotRevealed {
		return 0
	}
	return 1
}

// tally sums weighted votes per candidate. Shared by the captain vote,
// the day lynch, and the wolves' pack vote (§4.8).
func tally(votes map[string]Vote) map[string]int {
	totals := make(map[string]int, len(votes))
	for _, v := range votes {
		totals[v.Candidate] += v.Weight
	}
	return totals
}

// resolveTally picks the winner from a weighted tally: the highest
// count, with ties broken by a seeded uniform choice among the tied
// candidates (L3). Returns "" if no votes were cast.
func resolveTally(gameID string, round int, votes map[string]Vote) (winner string, wasTie bool) {
	totals := tally(votes)
	if len(totals) == 0 {
		return "", false
	}

	best := -1
	var leaders []string
	// Deterministic iteration: candidates ordered by id before comparing,
	// so a later equal count doesn't depend on map order.
	candidates := make([]string, 0, len(totals))
	for c := range totals {
		candidates = append(candidates, c)
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j] < candidates[j-1]; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	for _, c := range candidates {
		count := totals[c]
		switch {
		case count > best:
			best = count
			leaders = []string{c}
		case count == best:
			leaders = append(leaders, c)
		}
	}

	if len(leaders) == 1 {
		return leaders[0], false
	}
	return pickTieBreak(gameID, round, leaders), true
}

// wolfKillThreshold reports whether the wolves' pack vote has reached
// its resolution threshold for the configured win condition (§4.7):
// MAJORITY requires ceil(N/2) votes for one candidate; ELIMINATION
// requires every alive wolf to agree, with at least one vote cast.
func (g *Game) wolfKillThreshold() (candidate string, reached bool) {
	aliveWolves := g.aliveWolves()
	if len(aliveWolves) == 0 {
		return "", false
	}
	totals := tally(g.WolfVotes)

	switch g.Rules.WolfWinCondition {
	case WolfWinElimination:
		if len(g.WolfVotes) == 0 {
			return "", false
		}
		var only string
		for c := range totals {
			if only != "" && c != only {
				return "", false
			}
			only = c
		}
		if len(totals) == 1 && totals[only] == len(aliveWolves) {
			return only, true
		}
		return "", false
	default: // MAJORITY
		needed := (len(aliveWolves) + 1) / 2 // ceil(N/2)
		for c, count := range totals {
			if count >= needed {
				return c, true
			}
		}
		return "", false
	}
}

package engine

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// deterministicSeed derives a reproducible seed from a string key, used
// both for the §6 startGame role shuffle and the §4.8 vote tie-break
// (L3): same key in, same sequence out.
func deterministicSeed(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// AssignRoles shuffles rolePool with a seed derived from gameID and
// deals one role to each player in PlayerOrder. rolePool must have
// either exactly len(playerOrder) entries, or len(playerOrder)+2 when a
// Thief is in the pool: the two roles left over after dealing become
// the Thief's extra-role offer (§3 `thiefExtraRoles`), validated by the
// caller (startGame).
func AssignRoles(gameID string, playerOrder []string, rolePool []string) (assignment map[string]string, extraRoles []string) {
	pool := append([]string(nil), rolePool...)
	rng := rand.New(rand.NewSource(deterministicSeed(gameID)))
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	assignment = make(map[string]string, len(playerOrder))
	for i, uid := range playerOrder {
		assignment[uid] = pool[i]
	}
	if len(pool) > len(playerOrder) {
		extraRoles = pool[len(playerOrder):]
	}
	return assignment, extraRoles
}

// pickTieBreak chooses uniformly among tied candidates, seeded from
// {gameId, round} for reproducibility (L3).
func pickTieBreak(gameID string, round int, candidates []string) string {
	if len(candidates) == 1 {
		return candidates[0]
	}
	sorted := append([]string(nil), candidates...)
	// Stable ordering before the seeded pick keeps the result independent
	// of map/slice iteration order upstream.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	seedKey := fmt.Sprintf("%s#%d", gameID, round)
	rng := rand.New(rand.NewSource(deterministicSeed(seedKey)))
	return sorted[rng.Intn(len(sorted))]
}

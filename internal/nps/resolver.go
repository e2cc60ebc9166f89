package nps

import (
	"slices"
	"sort"

	"nps/api/internal/store"
)

// resolveWitnesses picks the witness entries that apply to projectType from
// the respondent maps of the requester's organization types.
//
// A single map row is taken as is. With several rows, witnesses of the
// requester's own types are dropped, the rest are ordered by row priority
// (stable) and only the first entry per witness type survives.
func resolveWitnesses(maps []store.RespondentQuestionsMap, requesterTypes []string, projectType ProjectType) []store.Witness {
	switch len(maps) {
	case 0:
		return nil
	case 1:
		witnesses := make([]store.Witness, 0, len(maps[0].Witnesses))
		for _, witness := range maps[0].Witnesses {
			if witness.AppliesTo(string(projectType)) {
				witnesses = append(witnesses, witness)
			}
		}
		return witnesses
	}

	type ranked struct {
		witness  store.Witness
		priority int
	}
	candidates := make([]ranked, 0)
	for _, row := range maps {
		for _, witness := range row.Witnesses {
			if slices.Contains(requesterTypes, witness.Type) {
				continue
			}
			if !witness.AppliesTo(string(projectType)) {
				continue
			}
			candidates = append(candidates, ranked{witness: witness, priority: row.Priority})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})

	seen := make(map[string]struct{}, len(candidates))
	witnesses := make([]store.Witness, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate.witness.Type]; ok {
			continue
		}
		seen[candidate.witness.Type] = struct{}{}
		witnesses = append(witnesses, candidate.witness)
	}
	return witnesses
}

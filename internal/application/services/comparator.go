package services

import (
	"slices"
	"strings"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

// Compare classifies our claim for identifier at block against the most
// staked remote claim.
func Compare(
	identifier string,
	block uint64,
	remote domain.RemoteAttestationsMap,
	local domain.LocalAttestationsMap,
) domain.ComparisonResult {
	result := domain.ComparisonResult{
		Outcome:    domain.OutcomeInconclusive,
		Identifier: identifier,
		Block:      block,
	}

	localAtt, ok := local[identifier][block]
	if !ok {
		result.Reason = domain.ReasonNoLocalAttestation
		return result
	}
	result.LocalValue = localAtt.Value

	remoteBlocks, ok := remote[identifier]
	if !ok {
		result.Reason = domain.ReasonNoRemoteEntry
		return result
	}

	candidates := remoteBlocks[block]
	if len(candidates) == 0 {
		result.Reason = domain.ReasonNoRemoteBlockClaims
		return result
	}

	winner := MostStaked(candidates)
	result.RemoteValue = winner.Value
	if winner.Value == localAtt.Value {
		result.Outcome = domain.OutcomeMatch
	} else {
		result.Outcome = domain.OutcomeDiverged
	}
	return result
}

// MostStaked returns the attestation with the highest stake weight. On equal
// stake the lexicographically smallest value wins.
func MostStaked(attestations []domain.Attestation) domain.Attestation {
	sorted := slices.Clone(attestations)
	slices.SortStableFunc(sorted, func(a, b domain.Attestation) int {
		if c := a.StakeWeight.Cmp(&b.StakeWeight); c != 0 {
			return c
		}
		return strings.Compare(b.Value, a.Value)
	})
	return sorted[len(sorted)-1]
}

// CompareAll compares every identifier at block while holding the local
// store's lock.
func CompareAll(
	block uint64,
	identifiers []string,
	remote domain.RemoteAttestationsMap,
	local *LocalStore,
) []domain.ComparisonResult {
	results := make([]domain.ComparisonResult, 0, len(identifiers))
	local.View(func(attestations domain.LocalAttestationsMap) {
		for _, id := range identifiers {
			results = append(results, Compare(id, block, remote, attestations))
		}
	})
	return results
}

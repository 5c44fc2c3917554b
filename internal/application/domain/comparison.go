package domain

import "fmt"

// Outcome classifies a comparison between our claim and the remote majority.
type Outcome int

const (
	// OutcomeInconclusive means there was not enough local or remote evidence.
	OutcomeInconclusive Outcome = iota
	// OutcomeMatch means our claim equals the most staked remote claim.
	OutcomeMatch
	// OutcomeDiverged means the most staked remote claim differs from ours.
	OutcomeDiverged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeDiverged:
		return "diverged"
	default:
		return "inconclusive"
	}
}

// Inconclusive reasons.
const (
	ReasonNoLocalAttestation  = "no local attestation"
	ReasonNoRemoteEntry       = "no remote attestation store entry"
	ReasonNoRemoteBlockClaims = "no remote attestations for block"
)

// ComparisonResult is the outcome of comparing one identifier at one block.
type ComparisonResult struct {
	Outcome     Outcome
	Identifier  string
	Block       uint64
	LocalValue  string
	RemoteValue string
	Reason      string
}

func (r ComparisonResult) String() string {
	switch r.Outcome {
	case OutcomeMatch:
		return fmt.Sprintf("POIs match for subgraph %s on block %d", r.Identifier, r.Block)
	case OutcomeDiverged:
		return fmt.Sprintf("POIs don't match for subgraph %s on block %d: local %s, remote %s",
			r.Identifier, r.Block, r.LocalValue, r.RemoteValue)
	default:
		return fmt.Sprintf("Comparison inconclusive for subgraph %s on block %d: %s",
			r.Identifier, r.Block, r.Reason)
	}
}

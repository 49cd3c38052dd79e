package bidcard

import (
	"math"
	"sort"
)

// TieBreak orders candidates the homeowner did not rank
type TieBreak string

const (
	TieBreakEarliestSubmitted TieBreak = "earliest_submitted"
	TieBreakLowestAmount      TieBreak = "lowest_amount"
)

func ToTieBreak(s string) TieBreak {
	if TieBreak(s) == TieBreakLowestAmount {
		return TieBreakLowestAmount
	}
	return TieBreakEarliestSubmitted
}

// IsEligible reports whether bid can be accepted now: live, not accepted
// before, and caught up with the latest revision
func (card *BidCard) IsEligible(bid *Bid) bool {
	switch bid.Status {
	case BidStatusSubmitted, BidStatusViewed, BidStatusShortlisted:
	default:
		return false
	}
	if card.WasAccepted(bid.Id) {
		return false
	}
	return bid.AcknowledgedRevision >= card.CurrentRevisionNumber
}

// Candidates returns eligible bids best first: homeowner ranking, then tb,
// then bid id so the order is total
func (card *BidCard) Candidates(tb TieBreak) []*Bid {
	rank := map[string]int{}
	for i, id := range card.Ranking {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	rankOf := func(id string) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return math.MaxInt32
	}

	res := []*Bid{}
	for _, b := range card.Bids {
		if card.IsEligible(b) {
			res = append(res, b)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if ra, rb := rankOf(a.Id), rankOf(b.Id); ra != rb {
			return ra < rb
		}
		if tb == TieBreakLowestAmount && !a.Amount.Equal(b.Amount) {
			return a.Amount.LessThan(b.Amount)
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.Id < b.Id
	})
	return res
}

// NextCandidate returns the best eligible bid other than exclude, nil when none is left
func (card *BidCard) NextCandidate(tb TieBreak, exclude string) *Bid {
	for _, b := range card.Candidates(tb) {
		if b.Id != exclude {
			return b
		}
	}
	return nil
}

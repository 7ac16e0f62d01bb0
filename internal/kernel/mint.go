package kernel

import (
	"sort"

	"github.com/google/uuid"

	"github.com/agentkernel/kernel/internal/errs"
	"github.com/agentkernel/kernel/internal/registry"
)

// MinimumMintBid is the price a sole bidder pays when there is no
// second bid to set a Vickrey price (original_source/.../world.go:566).
const MinimumMintBid int64 = 1

// MockScorer is a deterministic stand-in for the production LLM-backed
// scorer (SPEC_FULL.md §12.2): it always awards a fixed score, useful for
// tests and hosts that haven't wired a real scorer yet.
type MockScorer struct{ FixedScore int }

func (s MockScorer) ScoreArtifact(string, string, string) (int, error) {
	if s.FixedScore == 0 {
		return 50, nil
	}
	return s.FixedScore, nil
}

// SubmitForMint enters artifactID, owned by principalID, into the
// current mint auction round with an escrowed bid (spec §4.7, §8
// property 7). Minting is a kernel primitive available to any owner of
// an executable artifact, not a privilege reserved for genesis agents.
func (w *World) SubmitForMint(principalID, artifactID string, bid int64) (string, error) {
	if bid <= 0 {
		return "", errs.InvalidArgument("mint bid must be positive")
	}

	target, err := w.store.MustGet(artifactID)
	if err != nil {
		return "", err
	}
	if target.CreatedBy != principalID {
		return "", errs.NotAuthorized("only the artifact's creator may submit it for minting")
	}
	if !target.Executable {
		return "", errs.InvalidArgument("only executable artifacts can be submitted for minting")
	}

	if w.ledg.GetScrip(principalID) < bid {
		return "", errs.InsufficientFunds(itoa64(bid), itoa64(w.ledg.GetScrip(principalID)))
	}
	if err := w.ledg.DeductScrip(principalID, bid); err != nil {
		return "", err
	}

	w.mu.Lock()
	w.mintHeldBids[principalID] += bid
	submissionID := "mint_sub_" + uuid.New().String()[:8]
	w.mintSubmissions[submissionID] = MintSubmission{
		SubmissionID: submissionID, PrincipalID: principalID, ArtifactID: artifactID,
		Bid: bid, TickSubmitted: w.eventCounter,
	}
	w.mu.Unlock()

	w.logEvent("mint_submission", map[string]any{
		"submission_id": submissionID, "principal_id": principalID,
		"artifact_id": artifactID, "bid": bid,
	})
	return submissionID, nil
}

// MintSubmissions lists all pending mint submissions.
func (w *World) MintSubmissions() []MintSubmission {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]MintSubmission, 0, len(w.mintSubmissions))
	for _, s := range w.mintSubmissions {
		out = append(out, s)
	}
	return out
}

// MintHistory returns up to limit past auction results, most recent first.
func (w *World) MintHistory(limit int) []MintResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if limit <= 0 || limit > len(w.mintHistory) {
		limit = len(w.mintHistory)
	}
	out := make([]MintResult, limit)
	for i := 0; i < limit; i++ {
		out[i] = w.mintHistory[len(w.mintHistory)-1-i]
	}
	return out
}

// CancelMintSubmission withdraws principalID's own pending submission and
// refunds its escrowed bid in full. Reports false (not an error) if the
// submission doesn't exist or belongs to someone else.
func (w *World) CancelMintSubmission(principalID, submissionID string) bool {
	w.mu.Lock()
	sub, ok := w.mintSubmissions[submissionID]
	if !ok || sub.PrincipalID != principalID {
		w.mu.Unlock()
		return false
	}
	delete(w.mintSubmissions, submissionID)
	held := w.mintHeldBids[principalID] - sub.Bid
	if held < 0 {
		held = 0
	}
	w.mintHeldBids[principalID] = held
	w.mu.Unlock()

	_ = w.ledg.CreditScrip(principalID, sub.Bid)
	w.logEvent("mint_cancellation", map[string]any{
		"submission_id": submissionID, "principal_id": principalID, "refunded": sub.Bid,
	})
	return true
}

// ResolveMintAuction closes the current round: the highest bidder wins,
// pays the second-highest bid (or MinimumMintBid if they were the sole
// bidder — a Vickrey/second-price auction), losing bids are refunded in
// full, the winner is refunded their overbid, the price paid is
// redistributed as UBI to every other agent, and the winning artifact is
// scored to determine how much new scrip is minted to the winner
// (spec §4.7, §8 property 7; original_source/.../world.go:528-651).
func (w *World) ResolveMintAuction() MintResult {
	w.mu.Lock()
	submissions := make([]MintSubmission, 0, len(w.mintSubmissions))
	for _, s := range w.mintSubmissions {
		submissions = append(submissions, s)
	}
	tick := w.eventCounter
	w.mu.Unlock()

	if len(submissions) == 0 {
		result := MintResult{Error: "no submissions", TickResolved: tick}
		w.mu.Lock()
		w.mintHistory = append(w.mintHistory, result)
		w.mu.Unlock()
		w.logEvent("mint_auction_resolved", map[string]any{"error": result.Error})
		if w.metrics != nil {
			w.metrics.MintAuctionsTotal.WithLabelValues("no_submissions").Inc()
		}
		return result
	}

	sort.Slice(submissions, func(i, j int) bool { return submissions[i].Bid > submissions[j].Bid })
	winner := submissions[0]

	pricePaid := MinimumMintBid
	if len(submissions) > 1 {
		pricePaid = submissions[1].Bid
	}

	for _, loser := range submissions[1:] {
		_ = w.ledg.CreditScrip(loser.PrincipalID, loser.Bid)
	}
	if refund := winner.Bid - pricePaid; refund > 0 {
		_ = w.ledg.CreditScrip(winner.PrincipalID, refund)
	}

	w.mu.Lock()
	w.mintHeldBids = make(map[string]int64)
	w.mu.Unlock()

	ubi := w.distributeUBI(pricePaid, winner.PrincipalID)

	var score int
	var scripMinted int64
	var scoreErr string
	var scoreValid bool
	if target, err := w.store.MustGet(winner.ArtifactID); err == nil {
		s, err := w.scorer.ScoreArtifact(winner.ArtifactID, target.Type, target.Content)
		if err != nil {
			scoreErr = err.Error()
		} else {
			score = s
			scoreValid = true
			scripMinted = int64(score) / w.mintRatio
			if scripMinted > 0 {
				_ = w.ledg.CreditScrip(winner.PrincipalID, scripMinted)
			}
		}
	} else {
		scoreErr = err.Error()
	}

	result := MintResult{
		WinnerID: winner.PrincipalID, ArtifactID: winner.ArtifactID,
		WinningBid: winner.Bid, PricePaid: pricePaid,
		Score: score, ScoreValid: scoreValid, ScripMinted: scripMinted,
		UBIDistributed: ubi, Error: scoreErr, TickResolved: tick,
	}

	w.mu.Lock()
	w.mintHistory = append(w.mintHistory, result)
	w.mintSubmissions = make(map[string]MintSubmission)
	w.mu.Unlock()

	w.logEvent("mint_auction_resolved", map[string]any{
		"winner_id": result.WinnerID, "artifact_id": result.ArtifactID,
		"winning_bid": result.WinningBid, "price_paid": result.PricePaid,
		"score": result.Score, "scrip_minted": result.ScripMinted, "error": result.Error,
	})
	if w.metrics != nil {
		outcome := "resolved"
		if result.Error != "" {
			outcome = "score_error"
		}
		w.metrics.MintAuctionsTotal.WithLabelValues(outcome).Inc()
	}
	return result
}

// distributeUBI splits amount evenly among every registered agent
// principal except exclude, assigning the integer-division remainder to
// the first recipients in iteration order (deterministic, per
// original_source/.../ledger.py distribute_ubi).
func (w *World) distributeUBI(amount int64, exclude string) map[string]int64 {
	if amount <= 0 {
		return map[string]int64{}
	}

	agentIDs := w.reg.IDsByCategory(registry.CategoryAgent)
	recipients := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		if id != exclude {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return map[string]int64{}
	}
	sort.Strings(recipients)

	per := amount / int64(len(recipients))
	remainder := amount % int64(len(recipients))

	out := make(map[string]int64, len(recipients))
	for i, id := range recipients {
		share := per
		if int64(i) < remainder {
			share++
		}
		if share > 0 {
			_ = w.ledg.CreditScrip(id, share)
			out[id] = share
		}
	}
	return out
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

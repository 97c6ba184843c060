package team

import (
	"fmt"
	"strings"
)

// computeUncertaintyProxy builds spec §4.10 Phase 3's UncertaintyProxy from
// the final per-member states.
func computeUncertaintyProxy(states []MemberResult) UncertaintyProxy {
	var completed []MemberResult
	for _, s := range states {
		if s.State == StateCompleted {
			completed = append(completed, s)
		}
	}

	uIntra := averageIntraUncertainty(completed)
	uInter := pairwiseDivergence(completed)

	failureRate := failureRate(states)
	noEvidenceRate := noEvidenceRate(completed)

	uSys := uIntra
	if uInter > uSys {
		uSys = uInter
	}
	uSys += failureRate * 0.5
	uSys = clamp01(uSys)

	var signals []string
	if uIntra >= uIntraSignalThreshold {
		signals = append(signals, fmt.Sprintf("uIntra %.2f >= %.2f", uIntra, uIntraSignalThreshold))
	}
	if uInter >= uInterSignalThreshold {
		signals = append(signals, fmt.Sprintf("uInter %.2f >= %.2f", uInter, uInterSignalThreshold))
	}
	if uSys >= uSysSignalThreshold {
		signals = append(signals, fmt.Sprintf("uSys %.2f >= %.2f", uSys, uSysSignalThreshold))
	}
	if failureRate >= failureRateSignal {
		signals = append(signals, fmt.Sprintf("failure rate %.2f >= %.2f", failureRate, failureRateSignal))
	}
	if noEvidenceRate >= noEvidenceRateSignal {
		signals = append(signals, fmt.Sprintf("no-evidence rate %.2f >= %.2f", noEvidenceRate, noEvidenceRateSignal))
	}

	return UncertaintyProxy{UIntra: uIntra, UInter: uInter, USys: uSys, Signals: signals}
}

// averageIntraUncertainty is the average over completed members of
// (1-confidence)+contradictionSignalPenalty, clamped. The contradiction
// penalty reuses the same CLAIM/NEXT_STEP token-divergence measure as
// uInter, scoped to one member against the rest, since spec §4.10 names
// the signal without defining its formula.
func averageIntraUncertainty(completed []MemberResult) float64 {
	if len(completed) == 0 {
		return 0
	}
	var sum float64
	for i, m := range completed {
		penalty := contradictionPenalty(i, completed)
		sum += clamp01((1 - m.Output.Confidence) + penalty)
	}
	return sum / float64(len(completed))
}

func contradictionPenalty(index int, completed []MemberResult) float64 {
	if len(completed) < 2 {
		return 0
	}
	self := claimTokens(completed[index])
	var divergences []float64
	for j, other := range completed {
		if j == index {
			continue
		}
		divergences = append(divergences, jaccardDistance(self, claimTokens(other)))
	}
	return clamp01(average(divergences))
}

// pairwiseDivergence computes uInter: the average Jaccard distance on
// CLAIM+NEXT_STEP tokens across every distinct pair of completed members.
func pairwiseDivergence(completed []MemberResult) float64 {
	if len(completed) < 2 {
		return 0
	}
	var divergences []float64
	for i := 0; i < len(completed); i++ {
		for j := i + 1; j < len(completed); j++ {
			divergences = append(divergences, jaccardDistance(claimTokens(completed[i]), claimTokens(completed[j])))
		}
	}
	return clamp01(average(divergences))
}

func claimTokens(m MemberResult) map[string]struct{} {
	text := m.Output.Sections["CLAIM"] + " " + m.Output.Sections["NEXT_STEP"]
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		tokens[f] = struct{}{}
	}
	return tokens
}

func jaccardDistance(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	similarity := float64(intersection) / float64(union)
	return clamp01(1 - similarity)
}

func failureRate(states []MemberResult) float64 {
	if len(states) == 0 {
		return 0
	}
	failed := 0
	for _, s := range states {
		if s.State == StateFailed || s.State == StateCancelled {
			failed++
		}
	}
	return float64(failed) / float64(len(states))
}

func noEvidenceRate(completed []MemberResult) float64 {
	if len(completed) == 0 {
		return 0
	}
	missing := 0
	for _, m := range completed {
		if strings.TrimSpace(m.Output.Sections["EVIDENCE"]) == "" {
			missing++
		}
	}
	return float64(missing) / float64(len(completed))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// judge derives the FinalJudgment from the UncertaintyProxy per spec
// §4.10's verdict rules.
func judge(u UncertaintyProxy, states []MemberResult) FinalJudgment {
	fRate := failureRate(states)

	var verdict Verdict
	switch {
	case u.USys >= uSysSignalThreshold || fRate >= untrustedFailureRate:
		verdict = VerdictUntrusted
	case len(u.Signals) == 0 && u.USys < 0.4:
		verdict = VerdictTrusted
	default:
		verdict = VerdictPartial
	}

	reason := "no disagreement or failure signals raised"
	if len(u.Signals) > 0 {
		reason = "signals raised: " + strings.Join(u.Signals, "; ")
	}

	return FinalJudgment{
		Verdict:    verdict,
		Confidence: clamp01(1 - u.USys),
		Reason:     reason,
		NextStep:   aggregateNextStep(states),
	}
}

func aggregateNextStep(states []MemberResult) string {
	seen := make(map[string]struct{})
	var steps []string
	for _, s := range states {
		if s.State != StateCompleted {
			continue
		}
		step := strings.TrimSpace(s.Output.Sections["NEXT_STEP"])
		if step == "" {
			continue
		}
		if _, ok := seen[step]; ok {
			continue
		}
		seen[step] = struct{}{}
		steps = append(steps, step)
	}
	return strings.Join(steps, " | ")
}

func buildNarrative(states []MemberResult, judgment FinalJudgment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Team verdict: %s (confidence %.2f)\n", judgment.Verdict, judgment.Confidence)
	for _, s := range states {
		fmt.Fprintf(&b, "- %s [%s]: %s\n", s.Member.ID, s.State, summarize(s))
	}
	return b.String()
}

func summarize(s MemberResult) string {
	if s.State != StateCompleted {
		return string(s.Outcome.Kind)
	}
	if v, ok := s.Output.Sections["RESULT"]; ok {
		return v
	}
	return ""
}

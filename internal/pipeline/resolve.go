package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/assistiq-ai/assistiq/internal/guardrail"
	"github.com/assistiq-ai/assistiq/internal/jira"
	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/rag"
)

const (
	// minBundledLen: shorter tickets get follow-up questions instead of a
	// synthesized answer.
	minBundledLen = 120

	// duplicatePreviewLen bounds the resolution preview returned on the
	// duplicate short-circuit.
	duplicatePreviewLen = 600

	// externalTriggerDistance: retrieval this weak pulls in web evidence.
	externalTriggerDistance = 0.55

	// externalGapRatio: a large relative gap between the two best matches
	// means the top hit may be an outlier, so corroborate externally.
	externalGapRatio = 1.2

	// externalBoostSimCeiling: the external boost applies only when internal
	// evidence alone is weak.
	externalBoostSimCeiling = 0.45

	externalMaxResults = 3
	alternativeCount   = 3
	confidenceCeiling  = 0.98
	invalidCap         = 0.55
	escalateBelow      = 0.2
	distanceEpsilon    = 1e-6
	localFallbackModel = "local-fallback"
)

// rankDecay orders alternatives by presentation rank.
var rankDecay = []float64{1.0, 0.93, 0.87}

// followUpQuestions is the fixed set returned for low-info tickets.
var followUpQuestions = []string{
	"What environment did this occur in (production, test, or development)?",
	"What is the exact error message or code you are seeing?",
	"What changed recently (patches, configuration, or data loads)?",
	"How many users or business processes are impacted?",
}

// ContextSource supplies the bundled ticket context; the validator's fetch
// activity satisfies it.
type ContextSource interface {
	FetchContext(ctx context.Context, ticketKey string) (model.TicketContext, error)
}

// Resolver runs the resolution pipeline: retrieval, optional external
// augmentation, synthesis, guardrails and evidence-based scoring.
type Resolver struct {
	contexts  ContextSource
	store     Store
	retriever Retriever
	models    ModelService
	searcher  Searcher
	ingestor  Ingestor
	platform  TicketPlatform
	logger    *slog.Logger
}

// NewResolver wires the resolution pipeline. searcher and ingestor may be
// nil; external augmentation is then skipped.
func NewResolver(contexts ContextSource, store Store, retriever Retriever, models ModelService, searcher Searcher, ingestor Ingestor, platform TicketPlatform, logger *slog.Logger) *Resolver {
	return &Resolver{
		contexts:  contexts,
		store:     store,
		retriever: retriever,
		models:    models,
		searcher:  searcher,
		ingestor:  ingestor,
		platform:  platform,
		logger:    logger,
	}
}

// GenerateSolutions produces ranked solution alternatives for a ticket, or
// one of the two short-circuit results (duplicate, needs_more_info).
func (r *Resolver) GenerateSolutions(ctx context.Context, ticketKey string) (model.ResolutionResult, error) {
	// Duplicate short-circuit.
	if rec, err := r.store.GetValidation(ctx, ticketKey); err != nil {
		return model.ResolutionResult{}, err
	} else if rec != nil && rec.DuplicateOf != "" {
		return r.duplicateResult(ctx, ticketKey, rec.DuplicateOf)
	}

	tc, err := r.contexts.FetchContext(ctx, ticketKey)
	if err != nil {
		return model.ResolutionResult{}, err
	}

	// Low-info short-circuit.
	if len(tc.BundledText) < minBundledLen {
		return model.ResolutionResult{
			Status:            model.ResolutionStatusNeedsMoreInfo,
			TicketKey:         ticketKey,
			FollowUpQuestions: followUpQuestions,
		}, nil
	}

	internal, err := r.retriever.FindSimilar(ctx, tc.BundledText, rag.DefaultK, rag.DefaultMaxDistance)
	if err != nil {
		return model.ResolutionResult{}, fmt.Errorf("pipeline: retrieve for %s: %w", ticketKey, err)
	}

	distances := make([]float64, len(internal))
	for i, m := range internal {
		distances[i] = m.Distance
	}

	// External augmentation is best-effort.
	var external []model.Source
	externalUsed := false
	if needsExternal(distances) && r.searcher != nil && r.ingestor != nil {
		results, err := r.searcher.Search(ctx, tc.BundledText, externalMaxResults)
		if err != nil {
			r.logger.Warn("pipeline: external search failed", "ticket", ticketKey, "error", err)
		} else if len(results) > 0 {
			external = r.ingestor.IngestResults(ctx, results)
			externalUsed = len(external) > 0
		}
	}

	// Cluster near-identical internal matches down to representatives.
	embeddings := make([][]float32, len(internal))
	for i, m := range internal {
		embeddings[i] = m.Embedding
	}
	repIdx := rag.ClusterRepresentatives(embeddings, rag.ClusterSimThreshold)

	sources := make([]model.Source, 0, len(repIdx)+len(external))
	allowedInternal := make([]string, 0, len(repIdx))
	for _, idx := range repIdx {
		m := internal[idx]
		sources = append(sources, model.Source{
			SourceType: model.SourceInternal,
			TicketKey:  m.TicketKey,
			Summary:    m.Summary,
			Resolution: m.Resolution,
			Distance:   m.Distance,
		})
		allowedInternal = append(allowedInternal, m.TicketKey)
	}
	sources = append(sources, external...)
	allowedExternal := make([]int, len(external))
	for i := range external {
		allowedExternal[i] = i + 1
	}

	alts := r.models.SynthesizeAlternatives(ctx, tc.BundledText, sources, alternativeCount)

	base := baseConfidence(distances, externalUsed)
	if allEmpty(alts) {
		alts = []model.Alternative{heuristicAlternative(base)}
	} else {
		for i := range alts {
			cleaned, issues, valid := guardrail.ValidateSolution(alts[i].SolutionText, allowedInternal, allowedExternal)
			alts[i].SolutionText = cleaned
			alts[i].Issues = issues
			alts[i].IsValid = valid
			alts[i].Confidence = rankedConfidence(base, i, valid)
		}
	}

	escalate := false
	for _, a := range alts {
		if a.Confidence < escalateBelow {
			escalate = true
			break
		}
	}

	if err := r.store.AddEvent(ctx, ticketKey, model.EventSolutionsGenerated,
		fmt.Sprintf("Generated %d solution alternative(s)", len(alts))); err != nil {
		r.logger.Warn("pipeline: record generation event failed", "ticket", ticketKey, "error", err)
	}

	return model.ResolutionResult{
		Status:        model.ResolutionStatusOK,
		TicketKey:     ticketKey,
		TicketContext: tc.BundledText,
		Solutions:     alts,
		Escalate:      escalate,
		ExternalUsed:  externalUsed,
	}, nil
}

// PostSolution publishes an approved solution to the ticket and records the
// resolution and its timeline event.
func (r *Resolver) PostSolution(ctx context.Context, ticketKey, solutionText, providerModel string, sources []string, reasoning string, draftID *uuid.UUID) error {
	if err := r.platform.AddComment(ctx, ticketKey, solutionText+jira.AgentSignature); err != nil {
		return fmt.Errorf("pipeline: post solution to %s: %w", ticketKey, err)
	}

	rec := model.ResolutionRecord{
		TicketKey:        ticketKey,
		SolutionPosted:   solutionText,
		LLMProviderModel: providerModel,
		Sources:          sources,
		Reasoning:        reasoning,
		DraftID:          draftID,
	}
	if err := r.store.LogResolution(ctx, rec); err != nil {
		return err
	}
	return r.store.AddEvent(ctx, ticketKey, model.EventSolutionPosted, "Solution posted to ticket")
}

func (r *Resolver) duplicateResult(ctx context.Context, ticketKey, duplicateOf string) (model.ResolutionResult, error) {
	preview := ""
	if solved, err := r.store.GetSolvedTicket(ctx, duplicateOf); err != nil {
		r.logger.Warn("pipeline: duplicate preview lookup failed", "ticket", ticketKey, "error", err)
	} else if solved != nil {
		preview = solved.Resolution
		if len(preview) > duplicatePreviewLen {
			preview = preview[:duplicatePreviewLen]
		}
	}

	if err := r.store.AddEvent(ctx, ticketKey, model.EventDuplicateShortCircuit,
		"Duplicate of "+duplicateOf); err != nil {
		r.logger.Warn("pipeline: record duplicate event failed", "ticket", ticketKey, "error", err)
	}

	return model.ResolutionResult{
		Status:            model.ResolutionStatusDuplicate,
		TicketKey:         ticketKey,
		DuplicateOf:       duplicateOf,
		ResolutionPreview: preview,
	}, nil
}

// needsExternal decides whether to corroborate internal evidence with web
// search: no internal results, a weak best match, or a suspiciously large
// gap between the two best matches.
func needsExternal(distances []float64) bool {
	if len(distances) == 0 {
		return true
	}
	if distances[0] > externalTriggerDistance {
		return true
	}
	if len(distances) > 1 {
		gap := (distances[1] - distances[0]) / (distances[0] + distanceEpsilon)
		if gap > externalGapRatio {
			return true
		}
	}
	return false
}

// baseConfidence scores the shared evidence quality behind every
// alternative. sim = 1/(1+distance); coverage is a placeholder at 1.0.
func baseConfidence(distances []float64, externalUsed bool) float64 {
	if len(distances) == 0 {
		if externalUsed {
			return clamp(0.10 + 0.05)
		}
		return 0.10
	}

	topSim := 0.0
	sumSim := 0.0
	for _, d := range distances {
		sim := 1 / (1 + d)
		sumSim += sim
		if sim > topSim {
			topSim = sim
		}
	}
	avgSim := sumSim / float64(len(distances))

	const coverageRatio = 1.0
	base := 0.55*topSim + 0.30*avgSim + 0.10*coverageRatio
	if externalUsed && topSim < externalBoostSimCeiling {
		base += 0.05
	}
	return clamp(base)
}

func rankedConfidence(base float64, rank int, valid bool) float64 {
	decay := rankDecay[len(rankDecay)-1]
	if rank < len(rankDecay) {
		decay = rankDecay[rank]
	}
	conf := clamp(base * decay)
	if !valid && conf > invalidCap {
		conf = invalidCap
	}
	return conf
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(confidenceCeiling, v))
}

func allEmpty(alts []model.Alternative) bool {
	for _, a := range alts {
		if strings.TrimSpace(a.SolutionText) != "" {
			return false
		}
	}
	return true
}

// heuristicAlternative is the local fallback when every provider returned
// empty output: a generic five-step triage plan at half the base confidence.
func heuristicAlternative(base float64) model.Alternative {
	steps := []string{
		"1. Try to reproduce the issue and capture the exact steps and error output.",
		"2. Review recent changes (patches, configuration, data loads) around the time the issue started.",
		"3. Compare the failing environment with a working one to isolate differences.",
		"4. Collect the impact scope: affected users, modules and business processes.",
		"5. If the issue persists, escalate to the module owner with the evidence gathered.",
	}
	return model.Alternative{
		SolutionText:     strings.Join(steps, "\n"),
		Confidence:       clamp(base * 0.5),
		LLMProviderModel: localFallbackModel,
		Reasoning:        "Generic triage plan; language model providers returned no usable output.",
		IsValid:          true,
	}
}

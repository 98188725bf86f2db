package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/assistiq-ai/assistiq/internal/compliance"
	"github.com/assistiq-ai/assistiq/internal/jira"
	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/ocr"
	"github.com/assistiq-ai/assistiq/internal/priority"
)

// vagueWordThreshold: tickets with fewer unique alphabetic words are too
// thin to validate meaningfully.
const vagueWordThreshold = 12

// Validator runs the validation pipeline for one ticket at a time. Each
// method is one independently retriable activity.
type Validator struct {
	platform  TicketPlatform
	ocr       ocr.Engine
	store     Store
	models    ModelService
	retriever Retriever
	logger    *slog.Logger
}

// NewValidator wires the validation pipeline.
func NewValidator(platform TicketPlatform, engine ocr.Engine, store Store, models ModelService, retriever Retriever, logger *slog.Logger) *Validator {
	return &Validator{
		platform:  platform,
		ocr:       engine,
		store:     store,
		models:    models,
		retriever: retriever,
		logger:    logger,
	}
}

// FetchContext pulls the ticket's text and attachments and flattens them
// into one bundle. Image attachments are downloaded verbatim for the vision
// model; everything else is OCR'd and appended under a delimiter header.
// Attachment failures degrade to text-only context.
func (v *Validator) FetchContext(ctx context.Context, ticketKey string) (model.TicketContext, error) {
	details, err := v.platform.GetTicketDetails(ctx, ticketKey)
	if err != nil {
		return model.TicketContext{}, fmt.Errorf("pipeline: fetch ticket %s: %w", ticketKey, err)
	}

	parts := []string{
		"Ticket Key: " + ticketKey,
		"Summary: " + details.Summary,
		"Description: " + details.Description,
	}

	tc := model.TicketContext{TicketKey: ticketKey, ReporterID: details.ReporterID}
	for _, att := range details.OtherAttachments {
		data, err := v.platform.DownloadAttachment(ctx, att.URL)
		if err != nil {
			v.logger.Warn("pipeline: attachment download failed", "ticket", ticketKey, "file", att.Filename, "error", err)
			continue
		}
		extracted := v.ocr.ExtractText(data, att.MimeType)
		parts = append(parts, fmt.Sprintf("\n--- Attachment: %s ---\n%s", att.Filename, extracted))
	}
	for _, att := range details.ImageAttachments {
		data, err := v.platform.DownloadAttachment(ctx, att.URL)
		if err != nil {
			v.logger.Warn("pipeline: image download failed", "ticket", ticketKey, "file", att.Filename, "error", err)
			continue
		}
		tc.Images = append(tc.Images, data)
	}

	tc.BundledText = strings.Join(parts, "\n")
	return tc, nil
}

// ProduceVerdict loads the knowledge base, scrubs the bundle, asks the model
// chain for a completeness verdict, then enriches it with priority, vagueness
// and duplicate detection. Duplicate lookup failures are non-fatal.
func (v *Validator) ProduceVerdict(ctx context.Context, tc model.TicketContext) model.Verdict {
	kb, err := v.store.GetKnowledgeBase(ctx)
	if err != nil {
		v.logger.Error("pipeline: load knowledge base failed", "ticket", tc.TicketKey, "error", err)
		return model.Verdict{
			Module:           "Unknown",
			ValidationStatus: model.StatusError,
			MissingFields:    []string{},
			ErrorMessage:     err.Error(),
		}
	}

	scrubbed, redactions := compliance.Scrub(tc.BundledText)
	if redactions > 0 {
		v.logger.Info("pipeline: redacted sensitive tokens", "ticket", tc.TicketKey, "count", redactions)
	}

	verdict := v.models.Validate(ctx, scrubbed, kb, tc.Images)

	verdict.Priority, verdict.PriorityReason = priority.Classify("", tc.BundledText)
	verdict.IsVague = isVague(tc.BundledText)

	if dup, err := v.retriever.FindPotentialDuplicate(ctx, tc.BundledText); err != nil {
		v.logger.Warn("pipeline: duplicate lookup failed", "ticket", tc.TicketKey, "error", err)
	} else if dup != nil && dup.TicketKey != tc.TicketKey {
		verdict.DuplicateOf = dup.TicketKey
	}
	return verdict
}

// LogValidation persists the verdict and its timeline event atomically.
func (v *Validator) LogValidation(ctx context.Context, ticketKey string, verdict model.Verdict) error {
	return v.store.UpsertValidation(ctx, ticketKey, verdict)
}

// SideEffect performs the user-visible follow-up for a verdict: ask the
// reporter for missing fields on incomplete, announce the resolution queue on
// complete, nothing on error. Reassignment failure degrades to comment-only.
func (v *Validator) SideEffect(ctx context.Context, tc model.TicketContext, verdict model.Verdict) error {
	switch verdict.ValidationStatus {
	case model.StatusIncomplete:
		message := incompleteMessage(verdict)
		if tc.ReporterID == "" {
			v.logger.Warn("pipeline: no reporter, comment only", "ticket", tc.TicketKey)
			return v.platform.AddComment(ctx, tc.TicketKey, message)
		}
		err := v.platform.CommentAndReassign(ctx, tc.TicketKey, message, tc.ReporterID)
		if err != nil {
			// The comment went out before the reassign was attempted.
			v.logger.Warn("pipeline: reassign failed, comment already posted", "ticket", tc.TicketKey, "error", err)
			return nil
		}
		return nil

	case model.StatusComplete:
		return v.platform.AddComment(ctx, tc.TicketKey, completeMessage())

	default:
		return v.store.AddEvent(ctx, tc.TicketKey, model.EventValidationError,
			"Validation errored; no external action taken")
	}
}

// Run executes the full validation pipeline for one ticket.
func (v *Validator) Run(ctx context.Context, ticketKey string) (model.Verdict, error) {
	tc, err := v.FetchContext(ctx, ticketKey)
	if err != nil {
		return model.Verdict{}, err
	}
	verdict := v.ProduceVerdict(ctx, tc)
	if err := v.LogValidation(ctx, ticketKey, verdict); err != nil {
		return model.Verdict{}, err
	}
	if err := v.SideEffect(ctx, tc, verdict); err != nil {
		return model.Verdict{}, err
	}
	return verdict, nil
}

func incompleteMessage(verdict model.Verdict) string {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "This ticket, identified for the '%s' process, is currently incomplete. ", verdict.Module)
	b.WriteString("To proceed, please provide the following missing information:\n")
	for _, f := range verdict.MissingFields {
		b.WriteString("- " + f + "\n")
	}
	b.WriteString("\nThis ticket requires your attention. Please update it with the required details.")
	b.WriteString(jira.AgentSignature)
	return b.String()
}

func completeMessage() string {
	return "This ticket has been validated as complete and entered the resolution queue." + jira.AgentSignature
}

var (
	alphaWordRe = regexp.MustCompile(`[A-Za-z]+`)
	errorOnlyRe = regexp.MustCompile(`(?i)^\W*error\b[\s:#-]*\d*\W*$`)
)

// isVague flags tickets whose text carries too little signal to act on:
// fewer than vagueWordThreshold unique alphabetic words, or a description
// that is nothing but an error code.
func isVague(text string) bool {
	unique := map[string]bool{}
	for _, w := range alphaWordRe.FindAllString(strings.ToLower(text), -1) {
		unique[w] = true
	}
	if len(unique) < vagueWordThreshold {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		if desc, ok := strings.CutPrefix(line, "Description:"); ok {
			if desc = strings.TrimSpace(desc); desc != "" && errorOnlyRe.MatchString(desc) {
				return true
			}
		}
	}
	return false
}

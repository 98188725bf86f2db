package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistiq-ai/assistiq/internal/jira"
	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/ocr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlatform struct {
	details      jira.TicketDetails
	detailsErr   error
	attachments  map[string][]byte
	comments     []string
	reassigns    []string
	reassignFail bool
}

func (f *fakePlatform) GetTicketDetails(context.Context, string) (jira.TicketDetails, error) {
	return f.details, f.detailsErr
}

func (f *fakePlatform) DownloadAttachment(_ context.Context, url string) ([]byte, error) {
	data, ok := f.attachments[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakePlatform) AddComment(_ context.Context, _, comment string) error {
	f.comments = append(f.comments, comment)
	return nil
}

func (f *fakePlatform) CommentAndReassign(_ context.Context, _, comment, assigneeID string) error {
	f.comments = append(f.comments, comment)
	if f.reassignFail {
		return jira.ErrReassignFailed
	}
	f.reassigns = append(f.reassigns, assigneeID)
	return nil
}

type fakeStore struct {
	kb          model.KnowledgeBase
	validation  *model.ValidationRecord
	solved      map[string]*model.SolvedTicket
	upserts     []model.Verdict
	events      []string
	resolutions []model.ResolutionRecord
}

func (f *fakeStore) GetKnowledgeBase(context.Context) (model.KnowledgeBase, error) {
	return f.kb, nil
}

func (f *fakeStore) UpsertValidation(_ context.Context, _ string, v model.Verdict) error {
	f.upserts = append(f.upserts, v)
	return nil
}

func (f *fakeStore) GetValidation(context.Context, string) (*model.ValidationRecord, error) {
	return f.validation, nil
}

func (f *fakeStore) GetSolvedTicket(_ context.Context, key string) (*model.SolvedTicket, error) {
	return f.solved[key], nil
}

func (f *fakeStore) AddEvent(_ context.Context, _, eventType, _ string) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeStore) LogResolution(_ context.Context, rec model.ResolutionRecord) error {
	f.resolutions = append(f.resolutions, rec)
	return nil
}

type fakeModels struct {
	verdict model.Verdict
	alts    []model.Alternative
}

func (f *fakeModels) Validate(context.Context, string, model.KnowledgeBase, [][]byte) model.Verdict {
	return f.verdict
}

func (f *fakeModels) SynthesizeAlternatives(_ context.Context, _ string, _ []model.Source, n int) []model.Alternative {
	return f.alts
}

type fakeRetriever struct {
	similar []model.SimilarTicket
	dup     *model.SimilarTicket
}

func (f *fakeRetriever) FindSimilar(context.Context, string, int, float64) ([]model.SimilarTicket, error) {
	return f.similar, nil
}

func (f *fakeRetriever) FindPotentialDuplicate(context.Context, string) (*model.SimilarTicket, error) {
	return f.dup, nil
}

type fakeSearcher struct {
	results []model.SearchResult
	calls   int
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]model.SearchResult, error) {
	f.calls++
	return f.results, nil
}

type fakeIngestor struct{}

func (fakeIngestor) IngestResults(_ context.Context, results []model.SearchResult) []model.Source {
	out := make([]model.Source, len(results))
	for i, r := range results {
		out[i] = model.Source{SourceType: model.SourceExternal, URL: r.URL, Title: r.Title, Resolution: r.Snippet}
	}
	return out
}

type staticContext struct {
	tc model.TicketContext
}

func (s staticContext) FetchContext(context.Context, string) (model.TicketContext, error) {
	return s.tc, nil
}

func longBundle() string {
	return "Ticket Key: ERP-9\nSummary: GL posting fails after patch\nDescription: posting to a closed accounting period returns a validation failure and the month-end close is blocked for the finance team"
}

func TestFetchContextBundlesAttachments(t *testing.T) {
	platform := &fakePlatform{
		details: jira.TicketDetails{
			Key:         "ERP-9",
			Summary:     "GL posting fails",
			Description: "details",
			ReporterID:  "acc-1",
			ImageAttachments: []jira.Attachment{
				{Filename: "shot.png", URL: "img-1", MimeType: "image/png"},
			},
			OtherAttachments: []jira.Attachment{
				{Filename: "log.txt", URL: "att-1", MimeType: "text/plain"},
			},
		},
		attachments: map[string][]byte{
			"img-1": []byte{0x89, 0x50},
			"att-1": []byte("ORA-01400 cannot insert null"),
		},
	}
	v := NewValidator(platform, ocr.NewPlainTextEngine(), &fakeStore{}, &fakeModels{}, &fakeRetriever{}, testLogger())

	tc, err := v.FetchContext(context.Background(), "ERP-9")
	require.NoError(t, err)
	require.Equal(t, "acc-1", tc.ReporterID)
	require.Contains(t, tc.BundledText, "Ticket Key: ERP-9")
	require.Contains(t, tc.BundledText, "--- Attachment: log.txt ---")
	require.Contains(t, tc.BundledText, "ORA-01400")
	require.Len(t, tc.Images, 1)
}

func TestProduceVerdictEnrichment(t *testing.T) {
	store := &fakeStore{kb: model.KnowledgeBase{}}
	models := &fakeModels{verdict: model.Verdict{
		Module: "GL", ValidationStatus: model.StatusComplete, MissingFields: []string{},
	}}
	retriever := &fakeRetriever{dup: &model.SimilarTicket{
		SolvedTicket: model.SolvedTicket{TicketKey: "ERP-1"},
		Distance:     0.2,
	}}
	v := NewValidator(&fakePlatform{}, ocr.NewPlainTextEngine(), store, models, retriever, testLogger())

	verdict := v.ProduceVerdict(context.Background(), model.TicketContext{
		TicketKey:   "ERP-9",
		BundledText: "production down " + longBundle(),
	})
	require.Equal(t, model.PriorityP1, verdict.Priority)
	require.Equal(t, "ERP-1", verdict.DuplicateOf)
	require.False(t, verdict.IsVague)
}

func TestIsVague(t *testing.T) {
	require.True(t, isVague("error 500"))
	require.True(t, isVague("Ticket Key: X\nSummary: help\nDescription: Error 1234"))
	require.False(t, isVague(longBundle()))
}

func TestSideEffectIncompleteReassignFailureDegrades(t *testing.T) {
	platform := &fakePlatform{reassignFail: true}
	v := NewValidator(platform, ocr.NewPlainTextEngine(), &fakeStore{}, &fakeModels{}, &fakeRetriever{}, testLogger())

	err := v.SideEffect(context.Background(),
		model.TicketContext{TicketKey: "ERP-9", ReporterID: "acc-1"},
		model.Verdict{ValidationStatus: model.StatusIncomplete, Module: "GL", MissingFields: []string{"invoice_number"}})
	require.NoError(t, err)
	// The comment still went out even though reassignment failed.
	require.Len(t, platform.comments, 1)
	require.Contains(t, platform.comments[0], "invoice_number")
	require.Contains(t, platform.comments[0], "AssistIQ Agent")
	require.Empty(t, platform.reassigns)
}

func TestSideEffectNoReporterCommentsOnly(t *testing.T) {
	platform := &fakePlatform{}
	v := NewValidator(platform, ocr.NewPlainTextEngine(), &fakeStore{}, &fakeModels{}, &fakeRetriever{}, testLogger())

	err := v.SideEffect(context.Background(),
		model.TicketContext{TicketKey: "ERP-9"},
		model.Verdict{ValidationStatus: model.StatusIncomplete, Module: "GL"})
	require.NoError(t, err)
	require.Len(t, platform.comments, 1)
	require.Empty(t, platform.reassigns)
}

func newResolver(store *fakeStore, retriever *fakeRetriever, models *fakeModels, searcher *fakeSearcher, tc model.TicketContext, platform *fakePlatform) *Resolver {
	var s Searcher
	if searcher != nil {
		s = searcher
	}
	return NewResolver(staticContext{tc: tc}, store, retriever, models, s, fakeIngestor{}, platform, testLogger())
}

func TestGenerateSolutionsDuplicateShortCircuit(t *testing.T) {
	store := &fakeStore{
		validation: &model.ValidationRecord{TicketKey: "ERP-9", DuplicateOf: "ERP-1"},
		solved: map[string]*model.SolvedTicket{
			"ERP-1": {TicketKey: "ERP-1", Resolution: strings.Repeat("x", 700)},
		},
	}
	r := newResolver(store, &fakeRetriever{}, &fakeModels{}, nil, model.TicketContext{}, &fakePlatform{})

	res, err := r.GenerateSolutions(context.Background(), "ERP-9")
	require.NoError(t, err)
	require.Equal(t, model.ResolutionStatusDuplicate, res.Status)
	require.Equal(t, "ERP-1", res.DuplicateOf)
	require.Len(t, res.ResolutionPreview, 600)
	require.Contains(t, store.events, model.EventDuplicateShortCircuit)
}

func TestGenerateSolutionsNeedsMoreInfo(t *testing.T) {
	r := newResolver(&fakeStore{}, &fakeRetriever{}, &fakeModels{}, nil,
		model.TicketContext{TicketKey: "ERP-9", BundledText: "too short"}, &fakePlatform{})

	res, err := r.GenerateSolutions(context.Background(), "ERP-9")
	require.NoError(t, err)
	require.Equal(t, model.ResolutionStatusNeedsMoreInfo, res.Status)
	require.Len(t, res.FollowUpQuestions, 4)
}

func TestGenerateSolutionsScoring(t *testing.T) {
	retriever := &fakeRetriever{similar: []model.SimilarTicket{
		{SolvedTicket: model.SolvedTicket{TicketKey: "ERP-1", Resolution: "fix A"}, Distance: 0.10, Embedding: []float32{1, 0}},
		{SolvedTicket: model.SolvedTicket{TicketKey: "ERP-2", Resolution: "fix B"}, Distance: 0.15, Embedding: []float32{0, 1}},
	}}
	models := &fakeModels{alts: []model.Alternative{
		{SolutionText: "Step one [INT:ERP-1]", LLMProviderModel: "m"},
		{SolutionText: "Step two [INT:ERP-2]", LLMProviderModel: "m"},
		{SolutionText: "Step three [INT:ERP-1]", LLMProviderModel: "m"},
	}}
	store := &fakeStore{}
	r := newResolver(store, retriever, models, nil,
		model.TicketContext{TicketKey: "ERP-9", BundledText: longBundle()}, &fakePlatform{})

	res, err := r.GenerateSolutions(context.Background(), "ERP-9")
	require.NoError(t, err)
	require.Equal(t, model.ResolutionStatusOK, res.Status)
	require.Len(t, res.Solutions, 3)
	require.False(t, res.ExternalUsed)
	require.False(t, res.Escalate)

	// Rank decay: later alternatives never outscore earlier ones.
	require.GreaterOrEqual(t, res.Solutions[0].Confidence, res.Solutions[1].Confidence)
	require.GreaterOrEqual(t, res.Solutions[1].Confidence, res.Solutions[2].Confidence)
	for _, alt := range res.Solutions {
		require.True(t, alt.IsValid)
		require.GreaterOrEqual(t, alt.Confidence, 0.0)
		require.LessOrEqual(t, alt.Confidence, 0.98)
	}
	require.Contains(t, store.events, model.EventSolutionsGenerated)
}

func TestGenerateSolutionsInvalidCapped(t *testing.T) {
	retriever := &fakeRetriever{similar: []model.SimilarTicket{
		{SolvedTicket: model.SolvedTicket{TicketKey: "ERP-1"}, Distance: 0.05, Embedding: []float32{1, 0}},
	}}
	models := &fakeModels{alts: []model.Alternative{
		{SolutionText: "Run DROP TABLE invoices [INT:ERP-1]", LLMProviderModel: "m"},
	}}
	r := newResolver(&fakeStore{}, retriever, models, nil,
		model.TicketContext{TicketKey: "ERP-9", BundledText: longBundle()}, &fakePlatform{})

	res, err := r.GenerateSolutions(context.Background(), "ERP-9")
	require.NoError(t, err)
	require.False(t, res.Solutions[0].IsValid)
	require.LessOrEqual(t, res.Solutions[0].Confidence, invalidCap)
}

func TestGenerateSolutionsExternalTrigger(t *testing.T) {
	// Weak best match pulls in web evidence.
	retriever := &fakeRetriever{similar: []model.SimilarTicket{
		{SolvedTicket: model.SolvedTicket{TicketKey: "ERP-1"}, Distance: 0.80, Embedding: []float32{1, 0}},
	}}
	searcher := &fakeSearcher{results: []model.SearchResult{
		{URL: "https://docs.example.com/gl", Title: "GL docs", Snippet: "reopen the period"},
	}}
	models := &fakeModels{alts: []model.Alternative{
		{SolutionText: "See the docs [WEB:1]", LLMProviderModel: "m"},
	}}
	r := newResolver(&fakeStore{}, retriever, models, searcher,
		model.TicketContext{TicketKey: "ERP-9", BundledText: longBundle()}, &fakePlatform{})

	res, err := r.GenerateSolutions(context.Background(), "ERP-9")
	require.NoError(t, err)
	require.True(t, res.ExternalUsed)
	require.Equal(t, 1, searcher.calls)
	require.True(t, res.Solutions[0].IsValid)
}

func TestGenerateSolutionsLocalFallback(t *testing.T) {
	retriever := &fakeRetriever{similar: []model.SimilarTicket{
		{SolvedTicket: model.SolvedTicket{TicketKey: "ERP-1"}, Distance: 0.2, Embedding: []float32{1, 0}},
	}}
	models := &fakeModels{alts: []model.Alternative{
		{SolutionText: "", LLMProviderModel: "all_failed"},
		{SolutionText: "  ", LLMProviderModel: "all_failed"},
	}}
	r := newResolver(&fakeStore{}, retriever, models, nil,
		model.TicketContext{TicketKey: "ERP-9", BundledText: longBundle()}, &fakePlatform{})

	res, err := r.GenerateSolutions(context.Background(), "ERP-9")
	require.NoError(t, err)
	require.Len(t, res.Solutions, 1)
	alt := res.Solutions[0]
	require.Equal(t, localFallbackModel, alt.LLMProviderModel)
	require.Contains(t, alt.SolutionText, "reproduce")
	require.InDelta(t, baseConfidence([]float64{0.2}, false)*0.5, alt.Confidence, 1e-9)
}

func TestNeedsExternal(t *testing.T) {
	require.True(t, needsExternal(nil))                  // no internal results
	require.True(t, needsExternal([]float64{0.6}))       // weak best match
	require.True(t, needsExternal([]float64{0.1, 0.5}))  // gap ratio 4 > 1.2
	require.False(t, needsExternal([]float64{0.1, 0.2})) // solid evidence
}

func TestBaseConfidenceBounds(t *testing.T) {
	for _, distances := range [][]float64{
		nil,
		{0},
		{0, 0, 0},
		{0.5, 0.9},
		{5, 10},
	} {
		for _, ext := range []bool{false, true} {
			base := baseConfidence(distances, ext)
			require.GreaterOrEqual(t, base, 0.0)
			require.LessOrEqual(t, base, 0.98)
		}
	}
}

func TestBaseConfidenceExternalBoostOnlyWhenWeak(t *testing.T) {
	// Strong internal evidence: top_sim >= 0.45, no boost.
	strong := baseConfidence([]float64{0.1}, true)
	require.Equal(t, baseConfidence([]float64{0.1}, false), strong)

	// Weak internal evidence: boost applies.
	weak := []float64{1.5}
	require.InDelta(t, baseConfidence(weak, false)+0.05, baseConfidence(weak, true), 1e-9)
}

func TestPostSolutionSignsAndRecords(t *testing.T) {
	platform := &fakePlatform{}
	store := &fakeStore{}
	r := newResolver(store, &fakeRetriever{}, &fakeModels{}, nil, model.TicketContext{}, platform)

	err := r.PostSolution(context.Background(), "ERP-9", "Do the fix", "gpt-4o-mini", []string{"INT:ERP-1"}, "root cause", nil)
	require.NoError(t, err)
	require.Len(t, platform.comments, 1)
	require.True(t, strings.HasSuffix(platform.comments[0], jira.AgentSignature))
	require.Len(t, store.resolutions, 1)
	require.Equal(t, "Do the fix", store.resolutions[0].SolutionPosted)
	require.Contains(t, store.events, model.EventSolutionPosted)
}

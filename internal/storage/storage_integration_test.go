package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/storage"
	"github.com/assistiq-ai/assistiq/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("ASSISTIQ_INTEGRATION") == "" {
		os.Exit(m.Run())
	}
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	testDB = db
	code := m.Run()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

func requireDB(t *testing.T) *storage.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("set ASSISTIQ_INTEGRATION=1 to run container-backed storage tests")
	}
	return testDB
}

func vec(dims int, fill float32) pgvector.Vector {
	v := make([]float32, dims)
	for i := range v {
		v[i] = fill
	}
	return pgvector.NewVector(v)
}

func TestSolvedTicketRoundTrip(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	tickets := []model.SolvedTicket{
		{TicketKey: "SOLVED-1", Summary: "Invoice stuck on hold", Resolution: "Release the hold and revalidate"},
		{TicketKey: "SOLVED-2", Summary: "Login loop after SSO change", Resolution: "Clear the session cache"},
	}
	n, err := db.UpsertSolvedTickets(ctx, tickets, []pgvector.Vector{vec(384, 0.1), vec(384, 0.9)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := db.GetSolvedTicket(ctx, "SOLVED-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Release the hold and revalidate", got.Resolution)

	// Nearest to an all-0.1 query is SOLVED-1.
	near, err := db.VectorNearest(ctx, vec(384, 0.1), 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, near)
	require.Equal(t, "SOLVED-1", near[0].TicketKey)
	require.Len(t, near[0].Embedding, 384)
}

func TestValidationUpsertRefreshesInPlace(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	verdict := model.Verdict{
		Module:           "Order Management",
		ValidationStatus: model.StatusIncomplete,
		MissingFields:    []string{"Order Number"},
		Confidence:       0.8,
		Priority:         model.PriorityP2,
	}
	require.NoError(t, db.UpsertValidation(ctx, "VAL-1", verdict))

	verdict.ValidationStatus = model.StatusComplete
	verdict.MissingFields = nil
	require.NoError(t, db.UpsertValidation(ctx, "VAL-1", verdict))

	rec, err := db.GetValidation(ctx, "VAL-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, model.StatusComplete, rec.Status)

	statuses, err := db.GetLastKnownStatuses(ctx, []string{"VAL-1", "VAL-missing"})
	require.NoError(t, err)
	require.Equal(t, model.StatusComplete, statuses["VAL-1"])
	require.NotContains(t, statuses, "VAL-missing")
}

func TestDraftAndTimeline(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	draft, err := db.SaveDraft(ctx, "DRAFT-1", "Check the concurrent manager logs.", "pat")
	require.NoError(t, err)
	require.Equal(t, "DRAFT-1", draft.TicketKey)

	drafts, err := db.ListDrafts(ctx, "DRAFT-1")
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	events, err := db.GetTimeline(ctx, "DRAFT-1")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, model.EventDraftSaved, events[len(events)-1].EventType)
}

func TestKnowledgeBaseAggregation(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	stats, err := db.UpsertModuleKnowledge(ctx, []model.KnowledgeRow{
		{ModuleName: "Payables", FieldName: "Invoice Number"},
		{ModuleName: "Payables", FieldName: "Supplier Name"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, stats.RowsUpserted)

	kb, err := db.GetKnowledgeBase(ctx)
	require.NoError(t, err)
	require.Contains(t, kb, "Payables")
	require.Len(t, kb["Payables"].MandatoryFields, 2)
}

func TestExternalDocLifecycle(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	doc := model.ExternalDoc{
		URL:         "https://docs.example.com/erp/notes",
		Domain:      "docs.example.com",
		Title:       "ERP release notes",
		ContentText: "Known issue with batch validation after patch 12.2.9.",
		ContentHash: "abc123",
		FetchedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(-time.Hour), // already expired
	}
	changed, err := db.UpsertExternalDoc(ctx, doc, vec(384, 0.2))
	require.NoError(t, err)
	require.True(t, changed)

	pruned, err := db.PruneExpiredDocs(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.GreaterOrEqual(t, pruned, int64(1))

	got, err := db.GetExternalDoc(ctx, doc.URL)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestResolutionAndImpactCounters(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	require.NoError(t, db.LogResolution(ctx, model.ResolutionRecord{
		TicketKey:        "RES-1",
		SolutionPosted:   "Rebuild the index and rerun the request set.",
		LLMProviderModel: "gemini-1.5-flash",
		Sources:          []string{"INT:SOLVED-1"},
	}))

	recs, err := db.GetResolutions(ctx, "RES-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	counters, err := db.GetImpactCounters(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, counters.SolutionsPosted, 1)
}

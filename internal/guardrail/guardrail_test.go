package guardrail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistiq-ai/assistiq/internal/model"
)

func TestValidCitedSolution(t *testing.T) {
	text := "Hello, please try the steps below.\nReopen the posting period in GL settings [INT:ERP-1]\nSee the admin guide for details [WEB:1]"
	cleaned, issues, valid := ValidateSolution(text, []string{"ERP-1"}, []int{1})

	require.True(t, valid)
	require.Equal(t, text, cleaned)
	// The greeting has no citation but is over four words: warning only.
	require.Len(t, issues, 1)
	require.Equal(t, model.SeverityWarning, issues[0].Severity)
	require.Equal(t, 0, issues[0].ParagraphIndex)
}

func TestShortParagraphNeedsNoCitation(t *testing.T) {
	_, issues, valid := ValidateSolution("Try this:", nil, nil)
	require.True(t, valid)
	require.Empty(t, issues)
}

func TestUnknownInternalCitation(t *testing.T) {
	_, issues, valid := ValidateSolution("Apply the fix from [INT:ERP-999]", []string{"ERP-1"}, nil)
	require.False(t, valid)
	require.Len(t, issues, 1)
	require.Equal(t, model.SeverityError, issues[0].Severity)
	require.Contains(t, issues[0].Message, "INT:ERP-999")
}

func TestUnknownExternalCitation(t *testing.T) {
	_, issues, valid := ValidateSolution("See the docs [WEB:9]", nil, []int{1, 2})
	require.False(t, valid)
	require.Contains(t, issues[0].Message, "WEB:9")
}

func TestUnsafeParagraphDropped(t *testing.T) {
	text := "Step one, check the logs [INT:ERP-1]\nRun DROP TABLE invoices to reset [INT:ERP-1]\nStep three, verify [INT:ERP-1]"
	cleaned, issues, valid := ValidateSolution(text, []string{"ERP-1"}, nil)

	require.False(t, valid)
	require.NotContains(t, cleaned, "DROP TABLE")
	require.Equal(t, 2, len(strings.Split(cleaned, "\n")))

	var found bool
	for _, iss := range issues {
		if iss.Severity == model.SeverityError && strings.Contains(iss.Message, "DROP TABLE") {
			found = true
			require.Equal(t, 1, iss.ParagraphIndex)
		}
	}
	require.True(t, found)
}

func TestUnsafeMatchIsCaseInsensitive(t *testing.T) {
	cleaned, _, valid := ValidateSolution("please run rm -RF / now", nil, nil)
	require.False(t, valid)
	require.Empty(t, cleaned)
}

func TestEmptyLinesPreserved(t *testing.T) {
	text := "First [INT:A]\n\nSecond [INT:A]"
	cleaned, _, valid := ValidateSolution(text, []string{"A"}, nil)
	require.True(t, valid)
	require.Equal(t, text, cleaned)
}

package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/medfuse/internal/fuse"
	"github.com/ppiankov/medfuse/internal/model"
)

func testBundle(t *testing.T, n int) model.EvidenceBundle {
	t.Helper()
	profile := model.PatientProfile{
		Medications: []model.Medication{{Name: "Warfarin", Dose: "5mg"}},
	}
	var passages []model.ResearchPassage
	for i := 0; i < n; i++ {
		passages = append(passages, model.ResearchPassage{
			DocumentID: fmt.Sprintf("doc-%d", i),
			Title:      fmt.Sprintf("Study %d", i),
			Journal:    "Lancet",
			Year:       2020 + i,
			Text:       strings.Repeat(fmt.Sprintf("finding %d ", i), 10),
		})
	}
	bundle, err := fuse.Fuse(profile, passages)
	require.NoError(t, err)
	return bundle
}

func TestBuild_IncludesSectionsAndEvidence(t *testing.T) {
	bundle := testBundle(t, 2)

	p, err := Build("Is my INR a concern?", bundle, 10_000)
	require.NoError(t, err)

	for _, s := range model.RequiredSections {
		assert.Contains(t, p.Text, "## "+s.Heading)
	}
	assert.Contains(t, p.Text, "Is my INR a concern?")
	assert.Contains(t, p.Text, "[P1] PATIENT MEDICATION: Patient takes Warfarin 5mg")
	assert.Contains(t, p.Text, "[R1] RESEARCH Study 0 (Lancet, 2020)")
	assert.Equal(t, []model.EvidenceRef{"P1", "R1", "R2"}, p.Included)
	assert.Zero(t, p.Dropped)
}

func TestBuild_Deterministic(t *testing.T) {
	bundle := testBundle(t, 3)
	a, err := Build("q", bundle, 2000)
	require.NoError(t, err)
	b, err := Build("q", bundle, 2000)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuild_TruncatesWholeTailItems(t *testing.T) {
	bundle := testBundle(t, 10)
	full, err := Build("How risky is this?", bundle, 1_000_000)
	require.NoError(t, err)

	for budget := full.Len() - 1; budget > full.Len()-900; budget -= 37 {
		p, err := Build("How risky is this?", bundle, budget)
		require.NoError(t, err)

		assert.LessOrEqual(t, p.Len(), budget)
		assert.Equal(t, bundle.Len(), len(p.Included)+p.Dropped)

		// Included items are a prefix of the bundle order, each rendered intact
		entries := bundle.Entries()
		for i, ref := range p.Included {
			assert.Equal(t, entries[i].Ref, ref)
			assert.Contains(t, p.Text, RenderItem(entries[i]))
		}
		for _, e := range entries[len(p.Included):] {
			assert.NotContains(t, p.Text, "["+string(e.Ref)+"]")
		}
	}
}

func TestBuild_QuestionTooLarge(t *testing.T) {
	bundle := testBundle(t, 1)
	_, err := Build(strings.Repeat("x", 101), bundle, 100)
	assert.ErrorIs(t, err, ErrPromptTooLarge)
}

func TestBuild_TemplateDoesNotFit(t *testing.T) {
	bundle := testBundle(t, 1)
	question := strings.Repeat("q", 80)

	p, err := Build(question, bundle, 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, p.Len(), 100)
	assert.Contains(t, p.Text, question)
	assert.Empty(t, p.Included)
	assert.Equal(t, bundle.Len(), p.Dropped)
}

func TestBuild_BudgetCountsCharactersNotBytes(t *testing.T) {
	bundle := testBundle(t, 0)
	question := strings.Repeat("é", 50)

	p, err := Build(question, bundle, 50)
	require.NoError(t, err)
	assert.Equal(t, question, p.Text)
}

package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ppiankov/medfuse/internal/model"
)

func TestParsePassages(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"ResearchPassage": []any{
					map[string]any{
						"documentId": "doc-1",
						"text":       "Concomitant aspirin increases bleeding risk in warfarin users.",
						"title":      "Bleeding with combined antithrombotics",
						"pmid":       "12345678",
						"journal":    "Thromb Res",
						"year":       2019,
						"_additional": map[string]any{
							"id":        "uuid-1",
							"certainty": 0.91,
						},
					},
					map[string]any{
						"text": "   ",
						"_additional": map[string]any{
							"certainty": 0.8,
						},
					},
					map[string]any{
						"text": "INR monitoring reduces adverse events.",
						"pmid": 87654321,
						"_additional": map[string]any{
							"id":        "uuid-3",
							"certainty": 0.74,
						},
					},
				},
			},
		},
	}

	passages, err := parsePassages("ResearchPassage", resp)
	require.NoError(t, err)
	require.Len(t, passages, 2, "blank passages are skipped")

	assert.Equal(t, model.ResearchPassage{
		DocumentID: "doc-1",
		Text:       "Concomitant aspirin increases bleeding risk in warfarin users.",
		Score:      0.91,
		Title:      "Bleeding with combined antithrombotics",
		Identifier: "12345678",
		Journal:    "Thromb Res",
		Year:       2019,
	}, passages[0])

	assert.Equal(t, "uuid-3", passages[1].DocumentID, "falls back to the object id")
	assert.Equal(t, "87654321", passages[1].Identifier)
	assert.InDelta(t, 0.74, passages[1].Score, 1e-9)
}

func TestParsePassages_OtherClassIsEmpty(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{"Document": []any{map[string]any{"text": "x"}}},
		},
	}

	passages, err := parsePassages("ResearchPassage", resp)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestParsePassages_Errors(t *testing.T) {
	_, err := parsePassages("ResearchPassage", nil)
	assert.Error(t, err)

	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class ResearchPassage not found"}},
	}
	_, err = parsePassages("ResearchPassage", resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class ResearchPassage not found")
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.2))
	assert.Equal(t, 1.0, clamp01(1.3))
	assert.Equal(t, 0.5, clamp01(0.5))
}

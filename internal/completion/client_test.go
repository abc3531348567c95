package completion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/models"
)

func capModel(maxOutput int32) catalog.Model {
	return catalog.Model{
		Alias:         "gpt-4o-mini",
		ProviderModel: "gpt-4o-mini",
		MaxOutput:     maxOutput,
	}
}

func TestBuildParamsCapsMaxTokensAtModelLimit(t *testing.T) {
	t.Parallel()

	msgs := []models.ChatMessage{{Role: models.RoleUser, Content: "hello"}}

	params, err := buildParams(capModel(4096), msgs, 100000)
	require.NoError(t, err)
	require.Equal(t, int64(4096), params.MaxTokens.Value)

	params, err = buildParams(capModel(4096), msgs, 512)
	require.NoError(t, err)
	require.Equal(t, int64(512), params.MaxTokens.Value)

	// No request value falls back to the model limit.
	params, err = buildParams(capModel(4096), msgs, 0)
	require.NoError(t, err)
	require.Equal(t, int64(4096), params.MaxTokens.Value)

	// No limit anywhere leaves the parameter unset.
	params, err = buildParams(capModel(0), msgs, 0)
	require.NoError(t, err)
	require.False(t, params.MaxTokens.Valid())
}

func TestBuildParamsRejectsBlankPrompt(t *testing.T) {
	t.Parallel()

	_, err := buildParams(capModel(4096), []models.ChatMessage{
		{Role: models.RoleUser, Content: "   "},
	}, 0)
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

package compare_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/kinney-risk-backend/internal/compare"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

func assessment(t *testing.T, g, f, p int) scoring.Assessment {
	t.Helper()
	a, err := scoring.NewAssessment(g, f, p)
	require.NoError(t, err)
	return a
}

func TestCompare_Identical(t *testing.T) {
	a := assessment(t, 3, 3, 3)
	c := compare.Compare(a, a)

	assert.Equal(t, compare.AgreementStrong, c.Agreement)
	assert.True(t, c.ClassificationsMatch)
	assert.Equal(t, compare.FieldMatches{G: true, F: true, P: true, Classification: true}, c.Matches)
	assert.Nil(t, c.MaxDivergence)
	assert.Empty(t, c.Recommendations)
	for _, fd := range []compare.FactorDiff{c.G, c.F, c.P, c.Score} {
		assert.Equal(t, compare.DirectionIdentical, fd.Direction)
		assert.Zero(t, fd.Difference)
	}
}

func TestCompare_FactorDirections(t *testing.T) {
	c := compare.Compare(assessment(t, 4, 2, 3), assessment(t, 2, 3, 3))

	assert.Equal(t, compare.FactorDiff{Human: 4, AI: 2, Difference: 2, Direction: compare.DirectionHumanHigher}, c.G)
	assert.Equal(t, compare.FactorDiff{Human: 2, AI: 3, Difference: 1, Direction: compare.DirectionAIHigher}, c.F)
	assert.Equal(t, compare.DirectionIdentical, c.P.Direction)
	assert.Equal(t, 24-18, c.Score.Difference)
	require.NotNil(t, c.MaxDivergence)
	assert.Equal(t, scoring.DimensionG, *c.MaxDivergence)
	assert.False(t, c.Matches.G)
	assert.True(t, c.Matches.P)
}

func TestCompare_Agreement(t *testing.T) {
	tests := []struct {
		name      string
		human, ai [3]int
		want      compare.Agreement
	}{
		// 27 vs 36, both Moderate.
		{"same class, close", [3]int{3, 3, 3}, [3]int{4, 3, 3}, compare.AgreementStrong},
		// 27 vs 48, both Moderate.
		{"same class, far", [3]int{3, 3, 3}, [3]int{4, 4, 3}, compare.AgreementModerate},
		// 24 Low vs 27 Moderate.
		{"different class, close", [3]int{2, 4, 3}, [3]int{3, 3, 3}, compare.AgreementModerate},
		// 1 Low vs 125 High.
		{"different class, far", [3]int{1, 1, 1}, [3]int{5, 5, 5}, compare.AgreementWeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := compare.Compare(
				assessment(t, tt.human[0], tt.human[1], tt.human[2]),
				assessment(t, tt.ai[0], tt.ai[1], tt.ai[2]),
			)
			assert.Equal(t, tt.want, c.Agreement)
			assert.NotEmpty(t, c.AgreementMessage)
		})
	}
}

func TestCompare_Recommendations(t *testing.T) {
	t.Run("human low, ai higher", func(t *testing.T) {
		c := compare.Compare(assessment(t, 1, 1, 1), assessment(t, 5, 5, 5))
		// One class hint plus one per factor with a gap of 4.
		require.Len(t, c.Recommendations, 4)
		assert.Contains(t, c.Recommendations[0], "plus sévèrement")
		assert.Contains(t, c.Recommendations[1], "Gravité")
		assert.Contains(t, c.Recommendations[2], "Fréquence")
		assert.Contains(t, c.Recommendations[3], "Probabilité")
	})
	t.Run("human high, ai lower", func(t *testing.T) {
		c := compare.Compare(assessment(t, 5, 5, 3), assessment(t, 5, 4, 2))
		require.NotEmpty(t, c.Recommendations)
		assert.Contains(t, c.Recommendations[0], "moins sévèrement")
	})
	t.Run("gap of one is not flagged", func(t *testing.T) {
		c := compare.Compare(assessment(t, 3, 3, 3), assessment(t, 4, 3, 3))
		assert.Empty(t, c.Recommendations)
	})
}

func TestProjectAgreement(t *testing.T) {
	tests := []struct {
		diff  int
		match bool
		want  compare.ProjectAgreementLevel
	}{
		{0, true, compare.ProjectAgreementHigh},
		{10, true, compare.ProjectAgreementHigh},
		{-10, true, compare.ProjectAgreementHigh},
		{10, false, compare.ProjectAgreementMedium},
		{25, true, compare.ProjectAgreementMedium},
		{26, true, compare.ProjectAgreementLow},
		{100, false, compare.ProjectAgreementLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compare.ProjectAgreement(tt.diff, tt.match), "diff=%d match=%v", tt.diff, tt.match)
	}
}

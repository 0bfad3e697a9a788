package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestGradeDetailRoundTrip(t *testing.T) {
	detail := GradeDetail{
		Version:      GradeDetailVersion,
		PassID:       "pass-1",
		Type:         "quiz",
		OverallScore: 70,
		Confidence:   1,
		Quiz:         &QuizBreakdown{Correct: 7, Total: 10},
	}

	raw, err := detail.ToJSON()
	require.NoError(t, err)

	parsed, err := GradeDetailFromJSON(raw)
	require.NoError(t, err)
	require.Equal(t, detail, parsed)
}

func TestGradeDetailRejectsUnknownVersion(t *testing.T) {
	_, err := GradeDetailFromJSON(datatypes.JSON(`{"version":99,"pass_id":"p"}`))
	require.Error(t, err)
}

func TestGradeDetailRejectsEmptyColumn(t *testing.T) {
	_, err := GradeDetailFromJSON(nil)
	require.Error(t, err)
}

package grading

import (
	"regexp"
	"strings"

	"github.com/scrollu/portal-api/internal/models"
)

// Classification couples the selected strategy type with its provenance.
// Heuristic classifications come from content inspection rather than the
// assignment definition and are treated as advisory: the engine escalates
// them for human review instead of trusting them silently.
type Classification struct {
	Type      SubmissionType
	Heuristic bool
}

var assignmentTypeMap = map[string]SubmissionType{
	models.AssignmentTypeQuiz:    TypeQuiz,
	models.AssignmentTypeEssay:   TypeEssay,
	models.AssignmentTypeProject: TypeCode,
	models.AssignmentTypeLabWork: TypeCode,
	models.AssignmentTypeMath:    TypeMath,
}

var numericExpression = regexp.MustCompile(`\d+(\.\d+)?\s*[-+*/^=]\s*\d+`)

var codeMarkers = []string{
	"func ", "function ", "def ", "class ", "import ", "#include",
	"public static", "return ", "=>", "console.log", "print(",
}

// Classify maps a submission onto a grading strategy. The assignment's
// declared type is authoritative; content inspection is only consulted when
// the assignment type is absent or unmapped, and never overrides it.
func Classify(assignmentType, content string) Classification {
	declared := strings.ToLower(strings.TrimSpace(assignmentType))
	if mapped, ok := assignmentTypeMap[declared]; ok {
		return Classification{Type: mapped}
	}

	return Classification{Type: classifyByContent(content), Heuristic: true}
}

func classifyByContent(content string) SubmissionType {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return TypeEssay
	}

	if numericExpression.MatchString(trimmed) {
		return TypeMath
	}

	lowered := strings.ToLower(trimmed)
	for _, marker := range codeMarkers {
		if strings.Contains(lowered, marker) {
			return TypeCode
		}
	}

	return TypeEssay
}

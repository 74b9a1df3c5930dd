package model

// Mode selects between a graded attempt and a local-only practice run.
type Mode string

const (
	ModeReal     Mode = "REAL"
	ModePractice Mode = "PRACTICE"
)

// ModeFromPractice maps the host's practice flag to a Mode.
func ModeFromPractice(practice bool) Mode {
	if practice {
		return ModePractice
	}
	return ModeReal
}

// AnswerSubmission is one entry of the answer list sent to the Exam Service.
// Answer is empty for unanswered questions.
type AnswerSubmission struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// RecordedAnswer is the Exam Service's echo of what it stored for a question.
type RecordedAnswer struct {
	QuestionID string `json:"questionId"`
	UserAnswer string `json:"userAnswer"`
}

// PerQuestionResult is produced once, at submission time.
type PerQuestionResult struct {
	QuestionID     string      `json:"question_id"`
	SelectedAnswer OptionLabel `json:"selected_answer"`
	CorrectAnswer  OptionLabel `json:"correct_answer"`
	IsCorrect      bool        `json:"is_correct"`
}

// NewPerQuestionResult derives IsCorrect; an empty selection is never correct.
func NewPerQuestionResult(questionID string, selected, correct OptionLabel) PerQuestionResult {
	return PerQuestionResult{
		QuestionID:     questionID,
		SelectedAnswer: selected,
		CorrectAnswer:  correct,
		IsCorrect:      selected != "" && selected == correct,
	}
}

package model

// Question is a single multiple choice item of an attempt.
// CorrectIndex is never serialized while an attempt is active.
type Question struct {
	ID            string   `json:"id"`
	Subject       string   `json:"subject"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	OptionLetters []string `json:"option_letters"`
	CorrectIndex  *int     `json:"-"`
}

// QuestionForStudent is the student-facing view of a question.
type QuestionForStudent struct {
	ID            string   `json:"id"`
	Subject       string   `json:"subject"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	OptionLetters []string `json:"option_letters"`
}

// ForStudent strips grading data from a question.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:            q.ID,
		Subject:       q.Subject,
		Text:          q.Text,
		Options:       q.Options,
		OptionLetters: q.OptionLetters,
	}
}

// AnswerMap maps question id → chosen option index.
type AnswerMap map[string]int

// Clone returns an independent copy of m.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

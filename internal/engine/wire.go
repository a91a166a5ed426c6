package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// OptionLetter converts an option index to its wire letter, preferring the
// question's letter metadata and falling back to 'A'+index.
func OptionLetter(q model.Question, index int) string {
	if index >= 0 && index < len(q.OptionLetters) {
		if l := strings.TrimSpace(q.OptionLetters[index]); l != "" {
			return strings.ToUpper(l)
		}
	}
	return string(rune('A' + index))
}

// OptionIndex decodes a wire letter back to an option index. The unanswered
// sentinel and letters that match no option report false.
func OptionIndex(q model.Question, letter string) (int, bool) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" || letter == model.UnansweredOption {
		return 0, false
	}
	for i, l := range q.OptionLetters {
		if strings.EqualFold(strings.TrimSpace(l), letter) {
			return i, true
		}
	}
	if len(letter) != 1 {
		return 0, false
	}
	idx := int(letter[0]) - 'A'
	if idx < 0 || idx > 25 {
		return 0, false
	}
	if len(q.Options) > 0 && idx >= len(q.Options) {
		return 0, false
	}
	return idx, true
}

// BuildWireAnswers renders every question in order, using the unanswered
// sentinel for questions missing from answers.
func BuildWireAnswers(questions []model.Question, answers model.AnswerMap) []model.QuestionAnswer {
	out := make([]model.QuestionAnswer, 0, len(questions))
	for _, q := range questions {
		chosen := model.UnansweredOption
		if idx, ok := answers[q.ID]; ok {
			chosen = OptionLetter(q, idx)
		}
		out = append(out, model.QuestionAnswer{QuestionID: q.ID, ChosenOption: chosen})
	}
	return out
}

// FormatHMS renders d as zero-padded HH:MM:SS, truncating sub-second parts.
func FormatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseHMS parses an HH:MM:SS string. Hours may exceed two digits.
func ParseHMS(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var vals [3]int64
	for i, p := range parts {
		if p == "" {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		vals[i] = v
	}
	if vals[1] > 59 || vals[2] > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return time.Duration(vals[0])*time.Hour +
		time.Duration(vals[1])*time.Minute +
		time.Duration(vals[2])*time.Second, nil
}

// DurationUsed returns total - remaining bounded to [0, total].
func DurationUsed(total, remaining time.Duration) time.Duration {
	used := total - remaining
	if used < 0 {
		return 0
	}
	if used > total {
		return total
	}
	return used
}

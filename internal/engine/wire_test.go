package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestBuildWireAnswers(t *testing.T) {
	qs := makeQuestions(3)
	got := BuildWireAnswers(qs, model.AnswerMap{"q1": 0, "q2": 3})
	want := []model.QuestionAnswer{
		{QuestionID: "q1", ChosenOption: "A"},
		{QuestionID: "q2", ChosenOption: "D"},
		{QuestionID: "q3", ChosenOption: "X"},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOptionLetter(t *testing.T) {
	custom := model.Question{ID: "q", Options: []string{"a", "b"}, OptionLetters: []string{"P", "q"}}
	bare := model.Question{ID: "q", Options: []string{"a", "b", "c"}}
	tests := []struct {
		name string
		q    model.Question
		idx  int
		want string
	}{
		{"metadata", custom, 0, "P"},
		{"metadata uppercased", custom, 1, "Q"},
		{"fallback", bare, 2, "C"},
		{"beyond metadata", custom, 2, "C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OptionLetter(tt.q, tt.idx); got != tt.want {
				t.Errorf("OptionLetter = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionIndex(t *testing.T) {
	q := model.Question{ID: "q", Options: []string{"a", "b", "c", "d"}, OptionLetters: []string{"A", "B", "C", "D"}}
	tests := []struct {
		letter string
		want   int
		ok     bool
	}{
		{"B", 1, true},
		{"d", 3, true},
		{"X", 0, false},
		{"", 0, false},
		{"E", 0, false},
		{"AB", 0, false},
		{"1", 0, false},
	}
	for _, tt := range tests {
		got, ok := OptionIndex(q, tt.letter)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("OptionIndex(%q) = %d, %v; want %d, %v", tt.letter, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormatHMS(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-5 * time.Second, "00:00:00"},
		{59*time.Second + 900*time.Millisecond, "00:00:59"},
		{7100 * time.Second, "01:58:20"},
		{100 * time.Hour, "100:00:00"},
	}
	for _, tt := range tests {
		if got := FormatHMS(tt.in); got != tt.want {
			t.Errorf("FormatHMS(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseHMS(t *testing.T) {
	d, err := ParseHMS("01:58:20")
	if err != nil || d != 7100*time.Second {
		t.Fatalf("ParseHMS = %v, %v", d, err)
	}
	for _, bad := range []string{"", "1:2", "00:60:00", "00:00:61", "aa:00:00", "-1:00:00", "00::00"} {
		if _, err := ParseHMS(bad); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("ParseHMS(%q) err = %v, want ErrInvalidDuration", bad, err)
		}
	}
}

func TestDurationUsed(t *testing.T) {
	if got := FormatHMS(DurationUsed(7200*time.Second, 100*time.Second)); got != "01:58:20" {
		t.Errorf("DurationUsed = %s, want 01:58:20", got)
	}
	if got := DurationUsed(time.Minute, 2*time.Minute); got != 0 {
		t.Errorf("remaining > total: got %v", got)
	}
}

package projectid

import (
	"errors"
	"testing"
)

func TestExtract_Variants(t *testing.T) {
	cases := map[string]string{
		"1147739568":                                     "1147739568",
		"  1147739568\n":                                 "1147739568",
		"https://scratch.mit.edu/projects/1147739568/":   "1147739568",
		"scratch.mit.edu/projects/1147739568/editor":     "1147739568",
		"https://scratch.mit.edu/projects/1147739568/#x": "1147739568",
		"#1147739568":                                    "1147739568",
		"snake-project":                                  "snake-project",
	}
	for in, want := range cases {
		got, err := Extract(in)
		if err != nil {
			t.Fatalf("Extract(%q) 不期望错误：%v", in, err)
		}
		if string(got) != want {
			t.Fatalf("Extract(%q)：期望 %q，实际 %q", in, want, got)
		}
	}
}

func TestExtract_NoMatch(t *testing.T) {
	for _, in := range []string{"", "https://scratch.mit.edu/explore/"} {
		_, err := Extract(in)
		var ue *UnmatchedError
		if !errors.As(err, &ue) || ue.Kind != "no_match" {
			t.Fatalf("Extract(%q) 期望 no_match，实际 err=%v", in, err)
		}
	}
}

func TestExtract_Ambiguous(t *testing.T) {
	_, err := Extract("https://scratch.mit.edu/projects/2/ vs https://scratch.mit.edu/projects/1/")

	var ue *UnmatchedError
	if !errors.As(err, &ue) || ue.Kind != "ambiguous" {
		t.Fatalf("期望 ambiguous，实际 err=%v", err)
	}
	if len(ue.Candidates) != 2 || ue.Candidates[0] != "1" || ue.Candidates[1] != "2" {
		t.Fatalf("候选不符合预期（应排序）：%v", ue.Candidates)
	}
}

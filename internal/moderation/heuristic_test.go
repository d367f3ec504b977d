package moderation

import (
	"strings"
	"testing"
)

func TestEvaluateKeyword(t *testing.T) {
	v := Evaluate("this is SPAM")
	if !v.Flagged {
		t.Fatalf("expected keyword flag")
	}
	if v.Reason != "contains inappropriate keyword: spam" {
		t.Fatalf("unexpected reason: %q", v.Reason)
	}
}

func TestEvaluateExcessiveCaps(t *testing.T) {
	v := Evaluate("HELLO THERE FRIEND")
	if !v.Flagged {
		t.Fatalf("expected caps flag")
	}
	if v.Reason != "excessive capital letters" {
		t.Fatalf("unexpected reason: %q", v.Reason)
	}
}

func TestEvaluateShortCapsNotFlagged(t *testing.T) {
	// all caps but at or under the length threshold
	if v := Evaluate("HELLO THER"); v.Flagged {
		t.Fatalf("short shout should not be flagged, got %q", v.Reason)
	}
}

func TestEvaluateRepetition(t *testing.T) {
	v := Evaluate("go go go go go go go")
	if !v.Flagged {
		t.Fatalf("expected repetition flag")
	}
	if v.Reason != "excessive repetition of word: go" {
		t.Fatalf("unexpected reason: %q", v.Reason)
	}
}

func TestEvaluateRepetitionBoundary(t *testing.T) {
	// exactly five repeats is still allowed
	if v := Evaluate(strings.Repeat("go ", 5)); v.Flagged {
		t.Fatalf("five repeats should not be flagged, got %q", v.Reason)
	}
}

func TestEvaluateClean(t *testing.T) {
	if v := Evaluate("a normal sentence"); v.Flagged {
		t.Fatalf("clean text flagged: %q", v.Reason)
	}
	if v := Evaluate(""); v.Flagged {
		t.Fatalf("empty text flagged: %q", v.Reason)
	}
}

func TestEvaluateKeywordWinsOverCaps(t *testing.T) {
	v := Evaluate("THIS IS SPAM EVERYWHERE")
	if v.Reason != "contains inappropriate keyword: spam" {
		t.Fatalf("keyword rule should win, got %q", v.Reason)
	}
}

package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateID(t *testing.T) {
	cases := map[string]bool{
		"abc":                              true,
		"ab":                               false,
		"valid_id_123":                     true,
		"":                                 false,
		"has a space":                      false,
		"exactly-thirty-two-characters!!!": false,
	}

	for id, want := range cases {
		if got := ValidateID(id); got != want {
			t.Errorf("ValidateID(%q) = %t, want %t", id, got, want)
		}
	}
}

func TestMergeVariablesLastWins(t *testing.T) {
	defaults := []Variable{
		{Key: "a", Value: "1", Owner: VariableOwnerPipeline},
		{Key: "b", Value: "2", Owner: VariableOwnerPipeline},
	}
	overrides := []Variable{
		{Key: "b", Value: "20", Owner: VariableOwnerUser},
		{Key: "c", Value: "3", Owner: VariableOwnerUser},
	}

	got := MergeVariables(defaults, overrides)
	want := []Variable{
		{Key: "a", Value: "1", Owner: VariableOwnerPipeline},
		{Key: "b", Value: "20", Owner: VariableOwnerUser},
		{Key: "c", Value: "3", Owner: VariableOwnerUser},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeVariables mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeVariablesPreservesInsertionOrder(t *testing.T) {
	got := MergeVariables(
		[]Variable{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}},
		[]Variable{{Key: "a", Value: "3"}},
	)

	if len(got) != 2 || got[0].Key != "z" || got[1].Key != "a" {
		t.Fatalf("expected insertion order [z, a], got %+v", got)
	}
}

func TestMergeVariablesSystemWinsWhenPassedLast(t *testing.T) {
	run := []Variable{{Key: "RELAY_RUN_ID", Value: "user-supplied"}}
	system := []Variable{{Key: "RELAY_RUN_ID", Value: "4", Owner: VariableOwnerSystem}}

	got := MergeVariables(run, system)
	if len(got) != 1 || got[0].Value != "4" || got[0].Owner != VariableOwnerSystem {
		t.Fatalf("expected system value to win, got %+v", got)
	}
}

package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalIncludesZeroPosition(t *testing.T) {
	task := Task{ID: "t1", ProjectID: "p1", Title: "Title", ColumnID: "todo", Position: 0}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), "\"position\":0") {
		t.Fatalf("expected position field to be present, got %s", payload)
	}
}

func TestTaskPatchApplyToDoesNotAlias(t *testing.T) {
	tags := []string{"bug"}
	orig := Task{ID: "t1", Title: "old", Tags: []string{"a"}}
	title := "new"
	patch := TaskPatch{Title: &title, Tags: &tags}

	out := patch.ApplyTo(orig)
	tags[0] = "mutated"

	if out.Title != "new" || orig.Title != "old" {
		t.Fatalf("unexpected titles: out=%q orig=%q", out.Title, orig.Title)
	}
	if out.Tags[0] != "bug" {
		t.Fatalf("patched tags alias the patch slice: %v", out.Tags)
	}
	if orig.Tags[0] != "a" {
		t.Fatalf("original tags changed: %v", orig.Tags)
	}
	if (TaskPatch{}).Empty() != true || patch.Empty() {
		t.Fatalf("unexpected Empty result")
	}
}

func TestPersistenceErrorUnwrapAndMessage(t *testing.T) {
	cause := errors.New("403")
	err := error(&PersistenceError{Kind: KindPermission, Op: "move", Err: cause})

	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError")
	}
	if !strings.Contains(pe.UserMessage(), "permission") {
		t.Fatalf("unexpected message: %s", pe.UserMessage())
	}
	if KindNetwork.UserMessage() == KindPermission.UserMessage() {
		t.Fatalf("expected distinct messages per kind")
	}
}

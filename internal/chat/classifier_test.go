package chat

import (
	"reflect"
	"testing"
)

func TestClassifyGreeting(t *testing.T) {
	res := Classify("Hello")
	if res.Intent != IntentGreeting {
		t.Fatalf("intent = %s, want greeting", res.Intent)
	}
	if res.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", res.Confidence)
	}
}

func TestClassifyEmptyInput(t *testing.T) {
	res := Classify("")
	if res.Intent != IntentGeneral {
		t.Fatalf("intent = %s, want general", res.Intent)
	}
	if res.Confidence != 0.1 {
		t.Fatalf("confidence = %v, want 0.1", res.Confidence)
	}
}

func TestClassifyPendingTasks(t *testing.T) {
	res := Classify("What are my pending tasks?")
	if res.Intent != IntentGetPendingTasks {
		t.Fatalf("intent = %s, want get_pending_tasks", res.Intent)
	}
	if res.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9", res.Confidence)
	}
}

func TestClassifyCreate(t *testing.T) {
	res := Classify("create task to buy milk")
	if res.Intent != IntentCreateTask {
		t.Fatalf("intent = %s, want create_task", res.Intent)
	}
	if res.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", res.Confidence)
	}
	if res.Parameters["title"] != "buy milk" {
		t.Fatalf("title = %q, want %q", res.Parameters["title"], "buy milk")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first := Classify("show my tasks")
	for i := 0; i < 20; i++ {
		res := Classify("show my tasks")
		if res.Intent != first.Intent || res.Confidence != first.Confidence {
			t.Fatalf("run %d: got %s/%v, want %s/%v", i, res.Intent, res.Confidence, first.Intent, first.Confidence)
		}
	}
}

func TestExtractCreate(t *testing.T) {
	params := Extract("create task to buy milk", IntentCreateTask)
	if params["title"] != "buy milk" {
		t.Fatalf("title = %q", params["title"])
	}
	if params["description"] != "buy milk" {
		t.Fatalf("description = %q", params["description"])
	}
	if params["original_text"] != "create task to buy milk" {
		t.Fatalf("original_text = %q", params["original_text"])
	}
}

func TestExtractCreateEmptyTitle(t *testing.T) {
	params := Extract("create task to ", IntentCreateTask)
	if params["title"] != "" {
		t.Fatalf("title = %q, want empty", params["title"])
	}
}

func TestExtractCreatePeriodSplit(t *testing.T) {
	params := Extract("create task to buy milk. From the corner store", IntentCreateTask)
	if params["title"] != "buy milk" {
		t.Fatalf("title = %q", params["title"])
	}
	if params["description"] != "From the corner store" {
		t.Fatalf("description = %q", params["description"])
	}
}

func TestExtractCreateVerbFallback(t *testing.T) {
	params := Extract("make dinner", IntentCreateTask)
	if params["title"] != "dinner" {
		t.Fatalf("title = %q, want dinner", params["title"])
	}
}

func TestExtractUpdate(t *testing.T) {
	params := Extract("mark buy milk as completed", IntentUpdateTask)
	if params["target"] != "buy milk" {
		t.Fatalf("target = %q", params["target"])
	}
	if params["value"] != "completed" {
		t.Fatalf("value = %q", params["value"])
	}
}

func TestExtractDelete(t *testing.T) {
	params := Extract("delete the task buy milk", IntentDeleteTask)
	if params["target"] != "buy milk" {
		t.Fatalf("target = %q", params["target"])
	}
}

func TestValidateCreateMissingTitle(t *testing.T) {
	v := Validate(IntentCreateTask, map[string]string{"title": ""})
	if v.Valid {
		t.Fatal("expected invalid")
	}
	if len(v.Errors) != 1 || v.Errors[0] != "Task title is required" {
		t.Fatalf("errors = %v", v.Errors)
	}
}

func TestValidateCreateDefaultsDescription(t *testing.T) {
	v := Validate(IntentCreateTask, map[string]string{"title": "buy milk"})
	if !v.Valid {
		t.Fatalf("errors = %v", v.Errors)
	}
	if v.Corrected["description"] != "buy milk" {
		t.Fatalf("description = %q", v.Corrected["description"])
	}
}

func TestValidateDefaultsDescriptionEvenWhenInvalid(t *testing.T) {
	v := Validate(IntentCreateTask, map[string]string{"title": "", "description": ""})
	if v.Valid {
		t.Fatal("expected invalid")
	}
	if v.Corrected["description"] != v.Corrected["title"] {
		t.Fatalf("description = %q, want title %q", v.Corrected["description"], v.Corrected["title"])
	}
}

func TestValidateIdempotent(t *testing.T) {
	first := Validate(IntentCreateTask, map[string]string{"title": "buy milk"})
	second := Validate(IntentCreateTask, first.Corrected)
	if !second.Valid {
		t.Fatalf("errors = %v", second.Errors)
	}
	if !reflect.DeepEqual(first.Corrected, second.Corrected) {
		t.Fatalf("corrected changed: %v vs %v", first.Corrected, second.Corrected)
	}
}

func TestValidateTargets(t *testing.T) {
	v := Validate(IntentUpdateTask, map[string]string{})
	if v.Valid || v.Errors[0] != "Target for update is required" {
		t.Fatalf("update: %v", v.Errors)
	}
	v = Validate(IntentDeleteTask, map[string]string{})
	if v.Valid || v.Errors[0] != "Target for deletion is required" {
		t.Fatalf("delete: %v", v.Errors)
	}
}

func TestGuard(t *testing.T) {
	g := Guard{MaxChars: 20, Denied: []string{"DROP TABLE", "--"}}
	if reason := g.Check("hello"); reason != "" {
		t.Fatalf("clean input rejected: %q", reason)
	}
	if reason := g.Check("this input is longer than twenty characters"); reason != "Input is too long" {
		t.Fatalf("long input: %q", reason)
	}
	if reason := g.Check("drop table tasks"); reason != "Potentially dangerous pattern detected: DROP TABLE" {
		t.Fatalf("denied input: %q", reason)
	}
}

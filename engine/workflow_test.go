package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func testRequest() WorkflowRequest {
	return WorkflowRequest{
		Settings: testSettings,
		Filename: "part.stl",
		Model:    strings.NewReader("solid"),
		Send:     SendOptions{PrinterID: "Form4-abc", JobName: "part"},
	}
}

func TestRunPrintWorkflow(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev)

	var progress []string
	result, err := e.RunPrintWorkflow(context.Background(), "tenant-a", testRequest(),
		func(step string, completed, total int) {
			progress = append(progress, step)
		})
	if err != nil {
		t.Fatal(err)
	}

	if !result.Success {
		t.Errorf("workflow not successful: %v", result.Message)
	}
	want := []string{StepImport, StepOrient, StepSupport, StepLayout, StepSlice, StepSend}
	if have := result.CompletedSteps; len(have) != len(want) {
		t.Fatalf("completed steps: have: %v, want: %v", have, want)
	}
	for i, step := range want {
		if result.CompletedSteps[i] != step {
			t.Errorf("step %d: have: %v, want: %v", i, result.CompletedSteps[i], step)
		}
		if progress[i] != step {
			t.Errorf("progress %d: have: %v, want: %v", i, progress[i], step)
		}
	}

	record, err := e.Scene(context.Background(), "tenant-a", result.SceneID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := record.State, StateSent; have != want {
		t.Errorf("state: have: %v, want: %v", have, want)
	}
}

func TestRunPrintWorkflowFailure(t *testing.T) {
	dev := &fakeDevice{failAt: "layout", failErr: errors.New("models do not fit on build plate")}
	e := testEngine(t, dev)

	result, err := e.RunPrintWorkflow(context.Background(), "tenant-a", testRequest(), nil)
	if err == nil {
		t.Fatal("expected workflow error")
	}

	if result.Success {
		t.Error("failed workflow reported success")
	}
	if have, want := result.FailedStep, StepLayout; have != want {
		t.Errorf("failed step: have: %v, want: %v", have, want)
	}
	want := []string{StepImport, StepOrient, StepSupport}
	if have := result.CompletedSteps; len(have) != len(want) {
		t.Fatalf("completed steps: have: %v, want: %v", have, want)
	}
	if !strings.Contains(result.Message, "models do not fit on build plate") {
		t.Errorf("message does not carry server detail: %v", result.Message)
	}

	for _, call := range dev.callNames() {
		if call == "slice" || call == "print" {
			t.Errorf("step after failure reached device: %v", call)
		}
	}
}

func TestRunPrintWorkflowCancelled(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	req := testRequest()

	var result *WorkflowResult
	var err error
	result, err = e.RunPrintWorkflow(ctx, "tenant-a", req, func(step string, completed, total int) {
		if step == StepSupport {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("have: %v, want: %v", err, context.Canceled)
	}
	if !result.Cancelled {
		t.Error("result not marked cancelled")
	}
	if have, want := len(result.CompletedSteps), 3; have != want {
		t.Errorf("completed steps: have: %v, want: %v", have, want)
	}

	// the completed steps are visible in the scene record.
	record, rerr := e.Scene(context.Background(), "tenant-a", result.SceneID)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if have, want := record.State, StateSupported; have != want {
		t.Errorf("state: have: %v, want: %v", have, want)
	}

	for _, call := range dev.callNames() {
		if call == "layout" || call == "slice" || call == "print" {
			t.Errorf("step after cancel reached device: %v", call)
		}
	}
}

func TestRunPrintWorkflowRemotePrint(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev)

	req := testRequest()
	req.Send = SendOptions{GroupID: "group-1", JobName: "part", Queue: true}

	result, err := e.RunPrintWorkflow(context.Background(), "tenant-a", req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("workflow not successful: %v", result.Message)
	}

	remote := false
	for _, call := range dev.callNames() {
		if call == "print" {
			t.Error("direct print used for group dispatch")
		}
		if call == "remote-print" {
			remote = true
		}
	}
	if !remote {
		t.Error("remote print never reached device")
	}
}

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mikeboe/deep-research/pkg/research"
)

func TestPrompt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "trims input", input: "  rates and SaaS  \n", want: "rates and SaaS"},
		{name: "no trailing newline", input: "rates", want: "rates"},
		{name: "empty", input: "\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := prompt(strings.NewReader(tt.input), &out, "Query: ")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if out.String() != "Query: " {
				t.Errorf("label = %q", out.String())
			}
		})
	}
}

func TestConsoleSink(t *testing.T) {
	var out, errOut bytes.Buffer
	sink := &consoleSink{out: &out, errOut: &errOut}

	sink.Emit(research.StepStarted{Step: research.StepReportPlan})
	sink.Emit(research.MessageChunk{Text: "1. Rates"})
	sink.Emit(research.ReasoningChunk{Text: "hidden"})
	sink.Emit(research.TaskStarted{Name: "rates query"})
	sink.Emit(research.ErrorEvent{Message: "boom"})

	if out.String() != "1. Rates" {
		t.Errorf("stdout = %q", out.String())
	}
	for _, want := range []string{"== report-plan ==", "-- rates query --", "error: boom"} {
		if !strings.Contains(errOut.String(), want) {
			t.Errorf("stderr missing %q: %q", want, errOut.String())
		}
	}
	if strings.Contains(errOut.String(), "hidden") {
		t.Error("reasoning printed without verbose")
	}

	sink.verbose = true
	sink.Emit(research.ReasoningChunk{Text: "shown"})
	if !strings.Contains(errOut.String(), "shown") {
		t.Error("verbose sink should print reasoning")
	}
}

package pipeline_test

import (
	"testing"

	"facet/internal/pipeline"
)

func TestParseSignalRobotLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want pipeline.Signal
		ok   bool
	}{
		{
			name: "stage and percent",
			line: "PROG:featureExtraction,20",
			want: pipeline.Signal{Stage: "featureExtraction", Percent: 20, HasPercent: true},
			ok:   true,
		},
		{
			name: "with message",
			line: "PROG:meshing,90,decimating mesh",
			want: pipeline.Signal{Stage: "meshing", Percent: 90, HasPercent: true, Message: "decimating mesh"},
			ok:   true,
		},
		{
			name: "fractional percent truncates",
			line: "PROG:matching,40.7",
			want: pipeline.Signal{Stage: "matching", Percent: 40, HasPercent: true},
			ok:   true,
		},
		{
			name: "message containing commas",
			line: "PROG:texturing,95,baking, please wait",
			want: pipeline.Signal{Stage: "texturing", Percent: 95, HasPercent: true, Message: "baking, please wait"},
			ok:   true,
		},
		{name: "negative percent", line: "PROG:matching,-5"},
		{name: "non-numeric percent", line: "PROG:matching,soon"},
		{name: "missing percent", line: "PROG:matching"},
		{name: "empty stage", line: "PROG:,50"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := pipeline.ParseSignal(tc.line)
			if ok != tc.ok {
				t.Fatalf("ParseSignal(%q) ok = %v, want %v", tc.line, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("ParseSignal(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}

func TestParseSignalNodeHeaders(t *testing.T) {
	got, ok := pipeline.ParseSignal("[4/12] DepthMap")
	if !ok {
		t.Fatal("node header not recognized")
	}
	want := pipeline.Signal{Stage: "DepthMap"}
	if got != want {
		t.Fatalf("signal = %+v, want %+v", got, want)
	}
}

func TestParseSignalIgnoresChatter(t *testing.T) {
	for _, line := range []string{
		"",
		"Loading 42 images",
		"[warning] sensor database missing entry",
		"PROGRESS is not a robot line",
	} {
		if _, ok := pipeline.ParseSignal(line); ok {
			t.Fatalf("line %q parsed as a signal", line)
		}
	}
}

package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// Signal is a raw progress observation parsed from engine output. Stage
// names are engine identifiers; stagetrack maps them onto the normalized
// sequence.
type Signal struct {
	Stage   string
	Percent int
	// HasPercent distinguishes explicit percent reports from bare stage
	// boundaries.
	HasPercent bool
	Message    string
}

// nodeHeader matches engine task headers such as "[4/12] DepthMap".
var nodeHeader = regexp.MustCompile(`^\[(\d+)/(\d+)\]\s+(\w+)`)

// ParseSignal recognizes the two progress formats the engine emits:
// robot lines "PROG:stage,percent[,message]" and node headers
// "[k/n] NodeName". Anything else is not a signal.
func ParseSignal(line string) (Signal, bool) {
	line = strings.TrimSpace(line)

	if payload, ok := strings.CutPrefix(line, "PROG:"); ok {
		parts := strings.SplitN(payload, ",", 3)
		if len(parts) < 2 {
			return Signal{}, false
		}
		stage := strings.TrimSpace(parts[0])
		if stage == "" {
			return Signal{}, false
		}
		percent, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || percent < 0 {
			return Signal{}, false
		}
		sig := Signal{Stage: stage, Percent: int(percent), HasPercent: true}
		if len(parts) == 3 {
			sig.Message = strings.TrimSpace(parts[2])
		}
		return sig, true
	}

	if m := nodeHeader.FindStringSubmatch(line); m != nil {
		return Signal{Stage: m[3]}, true
	}

	return Signal{}, false
}

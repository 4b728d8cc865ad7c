package stagetrack

import "strings"

// Stage is one step of the normalized reconstruction sequence.
type Stage struct {
	Name string
	// Weight is the share of total progress attributed to the stage.
	// Later stages carry more weight because they are slower.
	Weight int
}

// stages is the normalized, strictly ordered reconstruction sequence.
// Weights sum to 100.
var stages = []Stage{
	{Name: "featureExtraction", Weight: 10},
	{Name: "matching", Weight: 15},
	{Name: "structureRecovery", Weight: 20},
	{Name: "depthEstimation", Weight: 20},
	{Name: "meshing", Weight: 15},
	{Name: "texturing", Weight: 20},
}

// aliases maps engine-specific stage identifiers (Meshroom node names
// included) onto the normalized sequence. Keys are lowercased.
var aliases = map[string]string{
	"camerainit":          "featureExtraction",
	"featureextraction":   "featureExtraction",
	"imagematching":       "matching",
	"featurematching":     "matching",
	"matching":            "matching",
	"structurefrommotion": "structureRecovery",
	"structurerecovery":   "structureRecovery",
	"sfm":                 "structureRecovery",
	"preparedensescene":   "depthEstimation",
	"depthmap":            "depthEstimation",
	"depthmapfilter":      "depthEstimation",
	"depthestimation":     "depthEstimation",
	"meshing":             "meshing",
	"meshfiltering":       "meshing",
	"meshdecimate":        "meshing",
	"texturing":           "texturing",
}

var stageIndex = func() map[string]int {
	idx := make(map[string]int, len(stages))
	for i, stage := range stages {
		idx[stage.Name] = i
	}
	return idx
}()

// Stages returns the ordered normalized stage table.
func Stages() []Stage {
	cp := make([]Stage, len(stages))
	copy(cp, stages)
	return cp
}

// Normalize maps an engine-specific stage identifier onto the normalized
// sequence. Unrecognized identifiers are rejected so callers can log and
// ignore them.
func Normalize(raw string) (string, bool) {
	name, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]
	return name, ok
}

// StageStart returns the cumulative weight of all stages preceding the
// named stage, i.e. the overall progress implied by entering it.
func StageStart(name string) int {
	idx, ok := stageIndex[name]
	if !ok {
		return 0
	}
	start := 0
	for i := 0; i < idx; i++ {
		start += stages[i].Weight
	}
	return start
}

// Update is a normalized progress observation.
type Update struct {
	Stage    string
	Progress int
}

// Tracker folds raw pipeline signals into a monotonic 0-100 progress value
// with a normalized stage name. One tracker serves one reconstruct attempt
// and is not safe for concurrent use; the registry serializes deliveries.
type Tracker struct {
	progress int
	stage    string
}

// New returns a tracker at zero progress.
func New() *Tracker {
	return &Tracker{}
}

// ObservePercent folds in a signal carrying an explicit overall percent.
// The stage name updates every time, including out-of-order reports; the
// displayed progress never regresses.
func (t *Tracker) ObservePercent(raw string, percent int) (Update, bool) {
	name, ok := Normalize(raw)
	if !ok {
		return Update{}, false
	}
	t.stage = name
	t.apply(percent)
	return Update{Stage: t.stage, Progress: t.progress}, true
}

// ObserveStage folds in a stage boundary with no percent. Progress snaps to
// the cumulative weight of the stages preceding it, clamped monotonic.
func (t *Tracker) ObserveStage(raw string) (Update, bool) {
	name, ok := Normalize(raw)
	if !ok {
		return Update{}, false
	}
	t.stage = name
	t.apply(StageStart(name))
	return Update{Stage: t.stage, Progress: t.progress}, true
}

// Snapshot returns the current normalized state.
func (t *Tracker) Snapshot() Update {
	return Update{Stage: t.stage, Progress: t.progress}
}

func (t *Tracker) apply(percent int) {
	if percent > 100 {
		percent = 100
	}
	if percent > t.progress {
		t.progress = percent
	}
}

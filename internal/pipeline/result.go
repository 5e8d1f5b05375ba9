package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Stage identifies the pipeline step a unit of work belongs to.
type Stage string

const (
	StageAnalysis Stage = "analysis"
	StageCapture  Stage = "capture"
	StageUpload   Stage = "upload"
	StagePublish  Stage = "publish"
	StageTorrent  Stage = "torrent"
	StageArtifact Stage = "artifact"
)

// UnitResult is the outcome of one unit of work: a file analysed, a
// screenshot uploaded, a torrent written.
type UnitResult struct {
	Stage Stage
	Unit  string
	Err   error
	At    time.Time
}

func (r UnitResult) OK() bool { return r.Err == nil }

// touchesFlag reports whether the result takes part in last-write evaluation.
// Failures always do; of the successes only uploads and torrents set the flag.
func (r UnitResult) touchesFlag() bool {
	return r.Err != nil || r.Stage == StageUpload || r.Stage == StageTorrent
}

// SuccessPolicy decides a task's overall success from its unit results.
type SuccessPolicy string

const (
	// SuccessLastWrite takes the outcome of the most recent flag-touching unit.
	SuccessLastWrite SuccessPolicy = "last-write"
	// SuccessAll requires at least one flag-touching unit and no failures.
	SuccessAll SuccessPolicy = "all"
	// SuccessAny requires at least one successful upload or torrent.
	SuccessAny SuccessPolicy = "any"
)

func ParseSuccessPolicy(s string) (SuccessPolicy, error) {
	switch p := SuccessPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return SuccessLastWrite, nil
	case SuccessLastWrite, SuccessAll, SuccessAny:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown success policy %q", ErrConfiguration, s)
	}
}

// Evaluate applies the policy to results in recording order.
func (p SuccessPolicy) Evaluate(results []UnitResult) bool {
	switch p {
	case SuccessAll:
		touched := false
		for _, r := range results {
			if r.Err != nil {
				return false
			}
			touched = touched || r.touchesFlag()
		}
		return touched
	case SuccessAny:
		for _, r := range results {
			if r.Err == nil && r.touchesFlag() {
				return true
			}
		}
		return false
	default:
		success := false
		for _, r := range results {
			if r.touchesFlag() {
				success = r.Err == nil
			}
		}
		return success
	}
}

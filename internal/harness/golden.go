package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/livestore/internal/value"
)

// Snapshot renders a result as canonical JSON: the trace, the final
// records, the digest, and any resyncs or fatal error.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make(value.Array, len(result.Trace))
	for i, e := range result.Trace {
		entry := value.Object{
			"seq":      value.Int(e.Seq),
			"envelope": value.String(e.Envelope),
		}
		if e.Error != "" {
			entry["error"] = value.String(e.Error)
		}
		if e.Code != "" {
			entry["code"] = value.String(e.Code)
		}
		trace[i] = entry
	}

	snap := value.Object{
		"scenario": value.String(name),
		"trace":    trace,
		"records":  result.Snapshot,
		"digest":   value.String(result.Digest),
	}
	if len(result.Resyncs) > 0 {
		resyncs := make(value.Array, len(result.Resyncs))
		for i, stores := range result.Resyncs {
			arr := make(value.Array, len(stores))
			for j, s := range stores {
				arr[j] = value.String(s)
			}
			resyncs[i] = arr
		}
		snap["resyncs"] = resyncs
	}
	if result.Fatal != "" {
		snap["fatal"] = value.String(result.Fatal)
	}
	return value.MarshalCanonical(snap)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

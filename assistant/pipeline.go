package assistant

import (
	"errors"
	"fmt"

	"bizdash/chart"
	"bizdash/utils"
)

// Plot is a figure produced by one snippet of a reply
type Plot struct {
	Index  int           `json:"index"`
	Kind   SnippetKind   `json:"kind"`
	Source string        `json:"source"`
	Figure *chart.Figure `json:"figure"`
}

// Outcome collects the plots and failures of a batch of snippets
type Outcome struct {
	Plots  []Plot
	Errors []*ExecutionError
}

// RunSpec builds the figure described by a ```chart block. The spec's
// dataset names a bound table or upload; without one the default table is
// used.
func (it Interpreter) RunSpec(src string, ns *Namespace) (*chart.Figure, error) {
	fig, err := it.guarded(func() (*chart.Figure, error) { return it.runSpec(src, ns) })
	if err != nil {
		return nil, &ExecutionError{Snippet: src, Err: err}
	}
	return fig, nil
}

func (it Interpreter) runSpec(src string, ns *Namespace) (*chart.Figure, error) {
	spec, err := chart.ParseSpec(src)
	if err != nil {
		return nil, err
	}
	if spec.Inline != nil {
		return chart.Build(nil, spec)
	}
	if ns == nil {
		ns = NewNamespace()
	}
	if spec.Dataset != "" {
		t, ok := ns.Lookup(spec.Dataset)
		if !ok {
			return nil, &chart.ConfigurationError{Kind: spec.Kind, Field: "dataset", Reason: fmt.Sprintf("unknown dataset %q", spec.Dataset)}
		}
		return chart.Build(t, spec)
	}
	t, ok := ns.Default()
	if !ok {
		return nil, &chart.ConfigurationError{Kind: spec.Kind, Field: "dataset", Reason: "no dataset to plot"}
	}
	return chart.Build(t, spec)
}

// Run interprets snippets in order. Each snippet's figure is collected
// before the next runs; a failing snippet does not stop the rest.
func (it Interpreter) Run(snippets []Snippet, ns *Namespace) Outcome {
	var out Outcome
	for i, sn := range snippets {
		fig, err := it.runOne(sn, ns)
		if err != nil {
			var ee *ExecutionError
			if !errors.As(err, &ee) {
				ee = &ExecutionError{Snippet: sn.Source, Err: err}
			}
			ee.Index = i
			out.Errors = append(out.Errors, ee)
			continue
		}
		if fig == nil {
			continue
		}
		out.Plots = append(out.Plots, Plot{Index: i, Kind: sn.Kind, Source: sn.Source, Figure: fig})
	}
	return out
}

// runOne evaluates a single snippet, turning a panic into an error
func (it Interpreter) runOne(sn Snippet, ns *Namespace) (fig *chart.Figure, err error) {
	defer utils.RecoverInto(it.logger(), "snippet", &err)

	if sn.Kind == SnippetSpec {
		return it.RunSpec(sn.Source, ns)
	}
	return it.Interpret(sn.Source, ns)
}

// ProcessReply extracts and runs every snippet of an assistant reply
func (it Interpreter) ProcessReply(text string, ns *Namespace) Outcome {
	return it.Run(ExtractSnippets(text), ns)
}

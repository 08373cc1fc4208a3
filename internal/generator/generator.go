// Package generator defines the boundary to the external change generator
// and intent classifier, plus a Claude CLI implementation of both.
package generator

import "context"

// Provenance records how proposed content was produced.
type Provenance string

const (
	// Mechanical content came from a deterministic rule or tool.
	Mechanical Provenance = "mechanical"
	// Generative content came from a language model.
	Generative Provenance = "generative"
)

// Proposal is either NoProposal or a *ProposedContent.
type Proposal interface {
	isProposal()
}

// NoProposal means the generator declined to propose a change.
type NoProposal struct {
	Reason string
}

// ProposedContent is the full replacement content for one file.
type ProposedContent struct {
	Path       string
	Text       string
	Provenance Provenance
}

func (NoProposal) isProposal()       {}
func (*ProposedContent) isProposal() {}

// Content returns the proposed content, or nil for NoProposal.
func Content(p Proposal) *ProposedContent {
	if c, ok := p.(*ProposedContent); ok && c != nil {
		return c
	}
	return nil
}

// Request describes the change wanted for one file.
type Request struct {
	Path     string
	Function string
	Current  string
	Prompt   string
	// Evidence is extra failure context, such as a CI log excerpt.
	Evidence string
}

// Generator produces replacement content for a file.
type Generator interface {
	Generate(ctx context.Context, req Request) (Proposal, error)
}

// Intent is a classified job intent. Model is set when a language model
// produced the classification.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Model      bool    `json:"model,omitempty"`
}

// Classifier assigns an intent and confidence to a prompt.
type Classifier interface {
	Classify(ctx context.Context, action, prompt string) (Intent, error)
}

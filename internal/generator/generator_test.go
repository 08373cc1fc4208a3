package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLLM(resp string, err error) (LLMFunc, *[]string) {
	var prompts []string
	return func(_ context.Context, p string) (string, error) {
		prompts = append(prompts, p)
		return resp, err
	}, &prompts
}

func TestGenerate_ParsesFileBlock(t *testing.T) {
	ask, prompts := fakeLLM("Here you go:\n<<<FILE\npackage a\n\nfunc A() {}\nFILE>>>\n", nil)
	c := NewClaude(ask, "")
	p, err := c.Generate(context.Background(), Request{Path: "a.go", Function: "A", Current: "package a\n", Prompt: "fix A"})
	require.NoError(t, err)

	content := Content(p)
	require.NotNil(t, content)
	assert.Equal(t, "package a\n\nfunc A() {}\n", content.Text)
	assert.Equal(t, Generative, content.Provenance)
	assert.Equal(t, "a.go", content.Path)
	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "Function to focus on: A")
}

func TestGenerate_NoProposal(t *testing.T) {
	for _, resp := range []string{"NO_FIX", "", "I am not sure", "<<<FILE\n  \nFILE>>>"} {
		ask, _ := fakeLLM(resp, nil)
		p, err := NewClaude(ask, "").Generate(context.Background(), Request{Path: "a.go"})
		require.NoError(t, err)
		assert.Nil(t, Content(p), "response %q", resp)
		_, ok := p.(NoProposal)
		assert.True(t, ok)
	}
}

func TestGenerate_ReadmeUsesReadmeTemplate(t *testing.T) {
	ask, prompts := fakeLLM("<<<FILE\n# Todo\nFILE>>>", nil)
	_, err := NewClaude(ask, "").Generate(context.Background(), Request{Path: "README.md", Prompt: "a todo app"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix((*prompts)[0], "Write a README.md"))
}

func TestGenerate_Error(t *testing.T) {
	ask, _ := fakeLLM("", errors.New("exit 1"))
	_, err := NewClaude(ask, "").Generate(context.Background(), Request{Path: "a.go"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		resp string
		err  error
		want Intent
	}{
		{"bugfix 0.82", nil, Intent{Name: "bugfix", Confidence: 0.82, Model: true}},
		{"Refactor high", nil, Intent{Name: "refactor", Model: true}},
		{"bugfix", nil, Intent{Name: "unknown", Model: true}},
		{"", nil, Intent{Name: "unknown"}},
		{"bugfix 0.9", errors.New("down"), Intent{Name: "unknown"}},
	}
	for _, tt := range tests {
		ask, _ := fakeLLM(tt.resp, tt.err)
		got, err := NewClaude(ask, "").Classify(context.Background(), "fix_bugs", "x")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "resp %q", tt.resp)
	}
}

func TestStaticClassifier(t *testing.T) {
	got, err := Static{Confidence: 0.6}.Classify(context.Background(), "refactor", "")
	require.NoError(t, err)
	assert.Equal(t, Intent{Name: "refactor", Confidence: 0.6}, got)

	got, _ = Static{Confidence: 0.6}.Classify(context.Background(), "nope", "")
	assert.Equal(t, Intent{Name: "unknown"}, got)
}

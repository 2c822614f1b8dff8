package nuagent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nevindra/nuagent"
)

func TestProviderSpellCheckerCorrects(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		answer("show me the lgos", 5, 4),
	}}
	sc := &nuagent.ProviderSpellChecker{Provider: p}
	got, err := sc.Check(context.Background(), "show me the lgso")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got != "show me the lgos" {
		t.Errorf("Check = %q", got)
	}
}

func TestProviderSpellCheckerNoChange(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		answer("show me the logs", 5, 4),
	}}
	sc := &nuagent.ProviderSpellChecker{Provider: p}
	got, err := sc.Check(context.Background(), "show me the logs")
	if err != nil || got != "" {
		t.Errorf("identical output must yield no correction, got %q %v", got, err)
	}
}

func TestProviderSpellCheckerRejectsCommentary(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		answer("Here is the corrected text:\nshow me the logs", 5, 4),
	}}
	sc := &nuagent.ProviderSpellChecker{Provider: p}
	got, err := sc.Check(context.Background(), "show me the logs plz")
	if err != nil || got != "" {
		t.Errorf("multi-line output must be rejected, got %q %v", got, err)
	}
}

func TestProviderSpellCheckerError(t *testing.T) {
	p := &scriptProvider{steps: []func(nuagent.ChatRequest) (nuagent.ChatResponse, error){
		func(nuagent.ChatRequest) (nuagent.ChatResponse, error) {
			return nuagent.ChatResponse{}, errors.New("model offline")
		},
	}}
	sc := &nuagent.ProviderSpellChecker{Provider: p}
	if _, err := sc.Check(context.Background(), "anything"); err == nil {
		t.Fatal("provider error must surface so the caller can skip the fragment")
	}
}

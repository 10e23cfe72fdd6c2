package quizgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lrnr-quiz-service/internal/domain"
)

type fakeProvider struct {
	answer string
	err    error
	prompt string
}

func (f *fakeProvider) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func TestGenerateQuestions(t *testing.T) {
	p := &fakeProvider{answer: "```json\n{\"questions\": [\"What is IAM?\", \"What is S3?\", \"Extra\"]}\n```"}
	svc := NewService(p)

	qs, err := svc.GenerateQuestions(context.Background(), QuizRequest{Topic: "aws", Expertise: domain.ExpertiseNovice, NumQuestions: 2, Style: "jedi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(qs) != 2 || qs[0] != "What is IAM?" {
		t.Fatalf("unexpected questions %v", qs)
	}
	if !strings.Contains(p.prompt, "jedi") || !strings.Contains(p.prompt, "novice") {
		t.Fatalf("prompt missing style or level: %s", p.prompt)
	}
}

func TestGenerateQuestionsValidation(t *testing.T) {
	svc := NewService(&fakeProvider{})
	_, err := svc.GenerateQuestions(context.Background(), QuizRequest{Topic: "aws", Expertise: "guru", NumQuestions: 5})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestGradeAnswer(t *testing.T) {
	svc := NewService(&fakeProvider{answer: `{"correct": false, "explanation": "S3 is storage", "correctAnswer": "object storage"}`})
	v, err := svc.GradeAnswer(context.Background(), AnswerRequest{Question: "What is S3?", UserAnswer: "a database", Topic: "aws"})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if v.Correct || v.CorrectAnswer != "object storage" {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestBadModelAnswer(t *testing.T) {
	svc := NewService(&fakeProvider{answer: "I cannot help with that"})
	_, err := svc.GradeAnswer(context.Background(), AnswerRequest{Question: "q", UserAnswer: "a"})
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected bad response, got %v", err)
	}
}

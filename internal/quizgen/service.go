package quizgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/domain"
)

// ErrBadResponse is returned when the model answer cannot be decoded.
var ErrBadResponse = errors.New("unusable model response")

// Styles are tone hints for question wording and feedback.
var Styles = []string{"normal", "master oogway", "1940's gangster", "like I'm an 8 year old", "jedi", "captain jack sparrow", "matthew mcconaughey"}

// QuizRequest configures a generated quiz.
type QuizRequest struct {
	Topic        string           `json:"topic"`
	Expertise    domain.Expertise `json:"expertise"`
	NumQuestions int              `json:"num_questions"`
	Style        string           `json:"style"`
}

// AnswerRequest is a free-text answer to grade.
type AnswerRequest struct {
	Question   string `json:"question"`
	UserAnswer string `json:"userAnswer"`
	Topic      string `json:"topic"`
	Style      string `json:"style"`
}

// Verdict is the grader's decision.
type Verdict struct {
	Correct       bool   `json:"correct"`
	Explanation   string `json:"explanation"`
	CorrectAnswer string `json:"correctAnswer"`
}

// Service generates open-ended questions and grades answers through a Provider.
type Service struct {
	provider Provider
}

func NewService(p Provider) *Service {
	return &Service{provider: p}
}

func (s *Service) GenerateQuestions(ctx context.Context, req QuizRequest) ([]string, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" || len(req.Topic) > domain.MaxTopicLength {
		return nil, fmt.Errorf("%w: topic must be 1 to %d characters", domain.ErrInvalidInput, domain.MaxTopicLength)
	}
	if _, ok := domain.PointsPerCorrect(req.Expertise); !ok {
		return nil, fmt.Errorf("%w: unknown expertise %q", domain.ErrInvalidInput, req.Expertise)
	}
	if req.NumQuestions < 1 || req.NumQuestions > domain.MaxQuestions {
		return nil, fmt.Errorf("%w: question count %d outside 1..%d", domain.ErrInvalidInput, req.NumQuestions, domain.MaxQuestions)
	}

	prompt := fmt.Sprintf(
		"Create a quiz about %q for a learner at %s level with exactly %d open-ended questions. "+
			"Write the questions in the style of %s. Do not include answers. "+
			`Respond with JSON only, shaped as {"questions": ["..."]}.`,
		req.Topic, req.Expertise, req.NumQuestions, styleOrDefault(req.Style))

	var out struct {
		Questions []string `json:"questions"`
	}
	if err := s.ask(ctx, prompt, &out); err != nil {
		return nil, err
	}
	if len(out.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrBadResponse)
	}
	if len(out.Questions) > req.NumQuestions {
		out.Questions = out.Questions[:req.NumQuestions]
	}
	return out.Questions, nil
}

func (s *Service) GradeAnswer(ctx context.Context, req AnswerRequest) (Verdict, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Verdict{}, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}
	prompt := fmt.Sprintf(
		"You are grading a quiz about %q. Question: %q. Learner answer: %q. "+
			"Decide whether the answer is correct and explain briefly in the style of %s. "+
			`Respond with JSON only, shaped as {"correct": true, "explanation": "...", "correctAnswer": "..."}.`,
		req.Topic, req.Question, req.UserAnswer, styleOrDefault(req.Style))

	var v Verdict
	if err := s.ask(ctx, prompt, &v); err != nil {
		return Verdict{}, err
	}
	return v, nil
}

func (s *Service) ask(ctx context.Context, prompt string, out any) error {
	log := config.WithContext(ctx)
	raw, err := s.provider.Complete(ctx, prompt)
	if err != nil {
		log.WithError(err).Error("model call failed")
		return err
	}
	clean := stripFences(raw)
	if clean == "" {
		return fmt.Errorf("%w: empty answer", ErrBadResponse)
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		log.WithError(err).Debugf("undecodable model answer:\n%s", clean)
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func stripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(strings.Trim(clean, "`"))
}

func styleOrDefault(style string) string {
	if strings.TrimSpace(style) == "" {
		return "normal"
	}
	return style
}

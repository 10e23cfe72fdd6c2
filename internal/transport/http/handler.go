package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/auth"
	"lrnr-quiz-service/internal/domain"
	"lrnr-quiz-service/internal/quizgen"
)

// QuizGenerator produces questions and grades answers.
type QuizGenerator interface {
	GenerateQuestions(ctx context.Context, req quizgen.QuizRequest) ([]string, error)
	GradeAnswer(ctx context.Context, req quizgen.AnswerRequest) (quizgen.Verdict, error)
}

// Handler serves the JSON API.
type Handler struct {
	progress     *app.ProgressService
	accounts     *app.AccountService
	profiles     app.ProfileRepository
	leaderboards *app.LeaderboardService
	quizzes      QuizGenerator
	issuer       *auth.Issuer
}

// Deps groups the services behind the API. Quizzes may be nil when no model is configured.
type Deps struct {
	Progress     *app.ProgressService
	Accounts     *app.AccountService
	Profiles     app.ProfileRepository
	Leaderboards *app.LeaderboardService
	Quizzes      QuizGenerator
	Issuer       *auth.Issuer
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		progress:     d.Progress,
		accounts:     d.Accounts,
		profiles:     d.Profiles,
		leaderboards: d.Leaderboards,
		quizzes:      d.Quizzes,
		issuer:       d.Issuer,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{UserID: acct.UserID, Username: acct.Username})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := h.issuer.Issue(acct.UserID, acct.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: acct.UserID, Username: acct.Username})
}

type scoreRequest struct {
	Topic        string           `json:"topic"`
	Expertise    domain.Expertise `json:"expertise"`
	NumQuestions int              `json:"num_of_questions"`
	Score        int              `json:"score"`
}

type scoreResponse struct {
	Streak     int  `json:"streak"`
	Experience int  `json:"experience"`
	Level      int  `json:"level"`
	BestScore  int  `json:"best_score"`
	NewBest    bool `json:"new_best"`
	Replayed   bool `json:"replayed,omitempty"`
}

// SubmitScore records a finished quiz for the authenticated user.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	var req scoreRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.progress.Submit(r.Context(), domain.Submission{
		UserID:       claims.Subject,
		Topic:        req.Topic,
		Expertise:    req.Expertise,
		NumQuestions: req.NumQuestions,
		TotalPoints:  req.Score,
		SubmissionID: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		Streak:     res.Streak,
		Experience: res.Experience,
		Level:      res.Level,
		BestScore:  res.BestScore,
		NewBest:    res.NewBest,
		Replayed:   res.Replayed,
	})
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	profile, err := h.profiles.GetProfile(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	kind, err := app.ParseKind(r.URL.Query().Get("by"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, r, domain.ErrInvalidInput)
			return
		}
	}
	lb, err := h.leaderboards.Top(r.Context(), kind, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *Handler) Styles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"styles": quizgen.Styles})
}

func (h *Handler) GenerateQuestions(w http.ResponseWriter, r *http.Request) {
	if h.quizzes == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "quiz generator not configured"})
		return
	}
	var req quizgen.QuizRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	questions, err := h.quizzes.GenerateQuestions(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"questions": questions})
}

func (h *Handler) CheckAnswer(w http.ResponseWriter, r *http.Request) {
	if h.quizzes == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "quiz generator not configured"})
		return
	}
	var req quizgen.AnswerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	verdict, err := h.quizzes.GradeAnswer(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

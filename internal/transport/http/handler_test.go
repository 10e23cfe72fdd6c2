package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/auth"
	"lrnr-quiz-service/internal/domain"
	"lrnr-quiz-service/internal/infra/memory"
	"lrnr-quiz-service/internal/quizgen"
)

type fakeGenerator struct{}

func (fakeGenerator) GenerateQuestions(_ context.Context, req quizgen.QuizRequest) ([]string, error) {
	out := make([]string, req.NumQuestions)
	for i := range out {
		out[i] = "question about " + req.Topic
	}
	return out, nil
}

func (fakeGenerator) GradeAnswer(context.Context, quizgen.AnswerRequest) (quizgen.Verdict, error) {
	return quizgen.Verdict{Correct: true, Explanation: "yes"}, nil
}

type testServer struct {
	*httptest.Server
	store *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	issuer, err := auth.NewIssuer("handler-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	progress := app.NewProgressService(store, app.ProgressOptions{})
	profiles := memory.NewProfileCache(app.NewProfileBuilder(store, time.UTC, nil), time.Minute)
	boards := app.NewLeaderboardService(store, memory.NewLeaderboard(), app.NewLeaderboardHub(), 10, time.UTC)
	progress.OnCommit("profile-cache", func(ctx context.Context, ev app.CommitEvent) error {
		return profiles.Invalidate(ctx, ev.Account.UserID)
	})
	progress.OnCommit("leaderboard", boards.OnCommit)

	h := NewHandler(Deps{
		Progress:     progress,
		Accounts:     app.NewAccountService(store),
		Profiles:     profiles,
		Leaderboards: boards,
		Quizzes:      fakeGenerator{},
		Issuer:       issuer,
	})
	srv := httptest.NewServer(NewRouter(h, NewWSHandler(boards)))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "secret123"}
	if resp, body := s.do(t, http.MethodPost, "/api/register", "", creds, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %v", resp.StatusCode, body)
	}
	resp, body := s.do(t, http.MethodPost, "/api/login", "", creds, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %v", resp.StatusCode, body)
	}
	return body["token"].(string)
}

func TestScoreFlow(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	score := map[string]interface{}{"topic": "aws", "expertise": "novice", "num_of_questions": 5, "score": 5}
	resp, body := srv.do(t, http.MethodPost, "/api/score", token, score, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score: %d %v", resp.StatusCode, body)
	}
	if body["streak"].(float64) != 1 || body["experience"].(float64) != 5 || body["new_best"] != true {
		t.Fatalf("unexpected score response %v", body)
	}

	resp, body = srv.do(t, http.MethodGet, "/api/account", token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("account: %d %v", resp.StatusCode, body)
	}
	if body["experience"].(float64) != 5 || len(body["platinumQuizzes"].([]interface{})) != 1 {
		t.Fatalf("unexpected profile %v", body)
	}

	resp, body = srv.do(t, http.MethodGet, "/api/leaderboard?by=experience", "", nil, nil)
	if resp.StatusCode != http.StatusOK || len(body["entries"].([]interface{})) != 1 {
		t.Fatalf("leaderboard: %d %v", resp.StatusCode, body)
	}
}

func TestScoreIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "bob")
	score := map[string]interface{}{"topic": "go", "expertise": "expert", "num_of_questions": 10, "score": 21}
	headers := map[string]string{"Idempotency-Key": "attempt-1"}

	_, first := srv.do(t, http.MethodPost, "/api/score", token, score, headers)
	resp, again := srv.do(t, http.MethodPost, "/api/score", token, score, headers)
	if resp.StatusCode != http.StatusOK || again["replayed"] != true || again["experience"] != first["experience"] {
		t.Fatalf("expected replay, got %d %v (first %v)", resp.StatusCode, again, first)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "carol")

	bad := map[string]interface{}{"topic": "aws", "expertise": "novice", "num_of_questions": 5, "score": 9}
	if resp, _ := srv.do(t, http.MethodPost, "/api/score", token, bad, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-max score, got %d", resp.StatusCode)
	}
	if resp, _ := srv.do(t, http.MethodPost, "/api/score", "", bad, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	creds := map[string]string{"username": "carol", "password": "secret123"}
	if resp, _ := srv.do(t, http.MethodPost, "/api/register", "", creds, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", resp.StatusCode)
	}
	creds["password"] = "nope-nope"
	if resp, _ := srv.do(t, http.MethodPost, "/api/login", "", creds, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	if resp, _ := srv.do(t, http.MethodGet, "/api/leaderboard?by=speed", "", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown board, got %d", resp.StatusCode)
	}
}

func TestScoreForDeletedAccountIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	issuer, _ := auth.NewIssuer("handler-test-secret", time.Hour)
	token, _ := issuer.Issue("ghost", "ghost")
	score := map[string]interface{}{"topic": "aws", "expertise": "novice", "num_of_questions": 5, "score": 1}
	if resp, _ := srv.do(t, http.MethodPost, "/api/score", token, score, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", resp.StatusCode)
	}
}

func TestQuestionsAndCheckAnswer(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "dave")

	req := map[string]interface{}{"topic": "kubernetes", "expertise": "intermediate", "num_questions": 3, "style": "jedi"}
	resp, body := srv.do(t, http.MethodPost, "/api/questions", token, req, nil)
	if resp.StatusCode != http.StatusOK || len(body["questions"].([]interface{})) != 3 {
		t.Fatalf("questions: %d %v", resp.StatusCode, body)
	}

	answer := map[string]string{"question": "What is a pod?", "userAnswer": "a group of containers", "topic": "kubernetes"}
	resp, body = srv.do(t, http.MethodPost, "/api/checkAnswer", token, answer, nil)
	if resp.StatusCode != http.StatusOK || body["correct"] != true {
		t.Fatalf("checkAnswer: %d %v", resp.StatusCode, body)
	}
}

func TestLeaderboardWebSocket(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "erin")

	u := "ws" + srv.URL[len("http"):] + "/ws/leaderboard?by=experience"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readBoard(t, conn)
	if len(first.Entries) != 0 {
		t.Fatalf("expected empty initial board, got %+v", first)
	}

	score := map[string]interface{}{"topic": "aws", "expertise": "intermediate", "num_of_questions": 5, "score": 8}
	if resp, body := srv.do(t, http.MethodPost, "/api/score", token, score, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("score: %d %v", resp.StatusCode, body)
	}
	update := readBoard(t, conn)
	if len(update.Entries) != 1 || update.Entries[0].Username != "erin" || update.Entries[0].Value != 8 {
		t.Fatalf("unexpected pushed board %+v", update)
	}
}

func readBoard(t *testing.T, conn *websocket.Conn) domain.Leaderboard {
	t.Helper()
	var msg struct {
		Type    string             `json:"type"`
		Payload domain.Leaderboard `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "leaderboard" {
		t.Fatalf("expected leaderboard message, got %s", msg.Type)
	}
	return msg.Payload
}

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LifeNeedZoya/chat-backend/internal/auth"
	"github.com/LifeNeedZoya/chat-backend/internal/models"
	"github.com/LifeNeedZoya/chat-backend/internal/storage"
	"github.com/LifeNeedZoya/chat-backend/internal/store"
	"github.com/LifeNeedZoya/chat-backend/internal/stream"
)

// scriptedGenerator replays canned fragments, optionally failing after
// they have all been emitted.
type scriptedGenerator struct {
	fragments []string
	err       error
	calls     int
	lastInput []models.ChatMessage
}

func (g *scriptedGenerator) StreamChat(ctx context.Context, messages []models.ChatMessage, onFragment func(string) error) (string, error) {
	g.calls++
	g.lastInput = messages
	var full strings.Builder
	for _, fragment := range g.fragments {
		full.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return full.String(), err
			}
		}
	}
	if g.err != nil {
		return full.String(), g.err
	}
	return full.String(), nil
}

type testEnv struct {
	router *gin.Engine
	db     *sql.DB
	store  *store.Service
	auth   *auth.Service
	gen    *scriptedGenerator
}

func newTestEnv(t *testing.T, gen *scriptedGenerator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	storeService := store.NewService(db, nil)
	authService, err := auth.NewService("test-secret", "HS256", time.Hour)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	if gen == nil {
		gen = &scriptedGenerator{}
	}
	handler := NewHandler(storeService, authService, gen, zap.NewNop())
	router := gin.New()
	handler.RegisterRoutes(router)

	return &testEnv{router: router, db: db, store: storeService, auth: authService, gen: gen}
}

func (env *testEnv) newUserToken(t *testing.T, email string) (int64, string) {
	t.Helper()
	user, err := env.store.CreateUser(context.Background(), "test user", email, "password123")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := env.auth.Encode(user.ID)
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	return user.ID, token
}

func (env *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func streamLines(t *testing.T, body string) []string {
	t.Helper()
	trimmed := strings.TrimSuffix(body, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestStreamChatRelaysFragmentsAndPersists(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"Hel", "lo"}}
	env := newTestEnv(t, gen)
	userID, token := env.newUserToken(t, "relay@example.com")

	rec := env.do(t, http.MethodPost, "/api/chat/stream", token,
		`{"messages":[{"role":"user","content":"Say hello"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(stream.ProtocolHeader); got != stream.ProtocolVersion {
		t.Fatalf("missing protocol header, got %q", got)
	}
	sessionHeader := rec.Header().Get("x-session-id")
	if sessionHeader == "" {
		t.Fatalf("missing x-session-id header")
	}

	lines := streamLines(t, rec.Body.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 frames, got %d: %q", len(lines), lines)
	}
	if lines[0] != `0:"Hel"` || lines[1] != `0:"lo"` {
		t.Fatalf("unexpected fragment frames: %q", lines[:2])
	}
	if !strings.HasPrefix(lines[2], "d:") {
		t.Fatalf("expected terminal d: frame, got %q", lines[2])
	}
	var completion stream.Completion
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "d:")), &completion); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if completion.FinishReason != "stop" {
		t.Fatalf("unexpected finish reason: %q", completion.FinishReason)
	}
	if completion.SessionID == 0 || sessionHeader != jsonInt(completion.SessionID) {
		t.Fatalf("session id mismatch: header=%q completion=%+v", sessionHeader, completion)
	}

	logs, err := env.store.ListLogs(context.Background(), userID, completion.SessionID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 persisted log, got %d", len(logs))
	}
	msgs := logs[0].Messages
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected turn shape: %+v", msgs)
	}
	if msgs[0].Content != "Say hello" {
		t.Fatalf("user side mismatch: %q", msgs[0].Content)
	}
	if msgs[1].Content != "Hello" {
		t.Fatalf("assistant side mismatch: %q", msgs[1].Content)
	}

	session, err := env.store.GetSession(context.Background(), userID, completion.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !session.UpdatedAt.After(session.CreatedAt) && !session.UpdatedAt.Equal(session.CreatedAt) {
		t.Fatalf("updated_at not refreshed: %+v", session)
	}
}

func TestStreamChatReusesSessionHistory(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"again"}}
	env := newTestEnv(t, gen)
	userID, token := env.newUserToken(t, "reuse@example.com")

	ctx := context.Background()
	session, err := env.store.CreateSession(ctx, userID, "prior")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := env.store.InsertLog(ctx, models.ChatLog{
		UserID:    userID,
		SessionID: session.ID,
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "first"},
			{Role: models.RoleAssistant, Content: "reply"},
		},
	}); err != nil {
		t.Fatalf("insert log: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/chat/stream", token,
		`{"messages":[{"role":"user","content":"second"}],"session":`+jsonInt(session.ID)+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// reconstructed history + the new message, oldest first
	want := []string{"first", "reply", "second"}
	if len(gen.lastInput) != len(want) {
		t.Fatalf("expected %d messages sent to model, got %d: %+v", len(want), len(gen.lastInput), gen.lastInput)
	}
	for i, content := range want {
		if gen.lastInput[i].Content != content {
			t.Fatalf("message %d: expected %q, got %q", i, content, gen.lastInput[i].Content)
		}
	}

	logs, err := env.store.ListLogs(ctx, userID, session.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs after second turn, got %d", len(logs))
	}
}

func TestStreamChatEmptyMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, token := env.newUserToken(t, "empty@example.com")

	rec := env.do(t, http.MethodPost, "/api/chat/stream", token, `{"messages":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.gen.calls != 0 {
		t.Fatalf("generation must not start for an empty request")
	}
	sessions, err := env.store.ListSessions(context.Background(), userID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("no session may be created for an empty request, got %d", len(sessions))
	}
}

func TestStreamChatUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.newUserToken(t, "missing@example.com")

	rec := env.do(t, http.MethodPost, "/api/chat/stream", token,
		`{"messages":[{"role":"user","content":"hi"}],"session":999}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if env.gen.calls != 0 {
		t.Fatalf("generation must not start for an unknown session")
	}
}

func TestStreamChatForeignSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ownerID, _ := env.newUserToken(t, "owner@example.com")
	_, strangerToken := env.newUserToken(t, "stranger@example.com")

	session, err := env.store.CreateSession(context.Background(), ownerID, "private")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	rec := env.do(t, http.MethodPost, "/api/chat/stream", strangerToken,
		`{"messages":[{"role":"user","content":"hi"}],"session":`+jsonInt(session.ID)+`}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %d", rec.Code)
	}
}

func TestStreamChatGeneratorError(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"Hel"}, err: context.DeadlineExceeded}
	env := newTestEnv(t, gen)
	userID, token := env.newUserToken(t, "genfail@example.com")

	rec := env.do(t, http.MethodPost, "/api/chat/stream", token,
		`{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream already committed, expected 200, got %d", rec.Code)
	}
	lines := streamLines(t, rec.Body.String())
	if len(lines) != 2 {
		t.Fatalf("expected fragment + error frame, got %q", lines)
	}
	if lines[0] != `0:"Hel"` {
		t.Fatalf("unexpected fragment: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "e:") {
		t.Fatalf("expected e: frame, got %q", lines[1])
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "d:") {
			t.Fatalf("no terminal frame after error, got %q", line)
		}
	}

	var count int
	if err := env.db.QueryRow(`SELECT COUNT(*) FROM chat_logs WHERE user_id = ?`, userID).Scan(&count); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 0 {
		t.Fatalf("no log may be written after a generation error, got %d", count)
	}
}

func TestStreamChatPersistenceFailureSwallowed(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"ok"}}
	env := newTestEnv(t, gen)
	_, token := env.newUserToken(t, "persistfail@example.com")

	// break persistence only; the stream itself must complete normally
	if _, err := env.db.Exec(`DROP TABLE chat_logs`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/chat/stream", token,
		`{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	lines := streamLines(t, rec.Body.String())
	sawDone := false
	for _, line := range lines {
		if strings.HasPrefix(line, "e:") {
			t.Fatalf("persistence failure leaked to the client: %q", line)
		}
		if strings.HasPrefix(line, "d:") {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("expected completed d: frame, got %q", lines)
	}
}

func TestStreamChatRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/chat/stream", "",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/chat/stream", "garbage-token",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestUserLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/users/", "",
		`{"name":"Zoya","email":"zoya@example.com","password":"secret123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/users/", "",
		`{"name":"Other","email":"zoya@example.com","password":"secret456"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/users/login", "",
		`{"email":"zoya@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/users/login", "",
		`{"email":"zoya@example.com","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		AccessToken string `json:"access_token"`
		Msg         string `json:"msg"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.AccessToken == "" || login.Msg != "Login successful" {
		t.Fatalf("unexpected login response: %+v", login)
	}

	rec = env.do(t, http.MethodGet, "/api/users/me", login.AccessToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var me struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Name != "Zoya" || me.Email != "zoya@example.com" {
		t.Fatalf("unexpected profile: %+v", me)
	}
}

func TestGetSessionAndList(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, token := env.newUserToken(t, "sessions@example.com")
	_, otherToken := env.newUserToken(t, "other@example.com")

	ctx := context.Background()
	session, err := env.store.CreateSession(ctx, userID, "reading list")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := env.store.InsertLog(ctx, models.ChatLog{
		UserID:    userID,
		SessionID: session.ID,
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "q"},
			{Role: models.RoleAssistant, Content: "a"},
		},
	}); err != nil {
		t.Fatalf("insert log: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/chat/session/"+jsonInt(session.ID), token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var detail struct {
		Title    string               `json:"title"`
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if detail.Title != "reading list" || len(detail.Messages) != 2 {
		t.Fatalf("unexpected session detail: %+v", detail)
	}

	rec = env.do(t, http.MethodGet, "/api/chat/session/"+jsonInt(session.ID), otherToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/chat/", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []models.ChatSession
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "reading list" {
		t.Fatalf("unexpected session list: %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/chat/", otherToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array for other user, got %q", body)
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, token := env.newUserToken(t, "delete@example.com")

	session, err := env.store.CreateSession(context.Background(), userID, "doomed")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	rec := env.do(t, http.MethodDelete, "/api/chat/session/"+jsonInt(session.ID), token, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/chat/session/"+jsonInt(session.ID), token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for repeat delete, got %d", rec.Code)
	}
}

func jsonInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

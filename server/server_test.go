package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"comment-copilot/pkg/copilot"
	"comment-copilot/storage"
)

type fakeEmailer struct {
	lastTo   string
	lastCode string
	sends    int
}

func (f *fakeEmailer) SendCode(_ context.Context, to, code string) error {
	f.lastTo = to
	f.lastCode = code
	f.sends++
	return nil
}

type fakeCompleter struct {
	comment    string
	err        error
	lastPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.comment, f.err
}

const testWebhookSecret = "webhook-secret"

type testEnv struct {
	server    *Server
	mux       *http.ServeMux
	store     *storage.Store
	emailer   *fakeEmailer
	completer *fakeCompleter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := storage.New(nil, "", t.TempDir(), []byte("test-salt"), logger)
	emailer := &fakeEmailer{}
	completer := &fakeCompleter{comment: "Great point, thanks for sharing!"}

	srv := New(&Config{
		Store:         store,
		Emailer:       emailer,
		Completer:     completer,
		Logger:        logger,
		IsNotFound:    storage.IsNotFound,
		WebhookSecret: []byte(testWebhookSecret),
		BaseURL:       "https://copilot.example.com",
	})

	return &testEnv{
		server:    srv,
		mux:       srv.Routes(),
		store:     store,
		emailer:   emailer,
		completer: completer,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

// signup runs the request/verify flow and returns the issued token.
func (e *testEnv) signup(t *testing.T, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": email})
	if rec.Code != http.StatusOK {
		t.Fatalf("request-otp status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/api/verify-otp", "", map[string]string{
		"email": email, "otp": e.emailer.lastCode, "action": copilot.ActionSignup,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-otp status = %d, body %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["authToken"].(string)
	if token == "" {
		t.Fatal("verify-otp returned no authToken")
	}
	return token
}

func TestRequestOTPValidation(t *testing.T) {
	tests := []struct {
		name  string
		email string
	}{
		{"empty", ""},
		{"no at sign", "not-an-email"},
		{"no tld", "a@b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": tt.email})
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if env.emailer.sends != 0 {
				t.Errorf("sends = %d, want 0", env.emailer.sends)
			}
		})
	}
}

func TestRequestOTPIssuesSixDigitCode(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": "user@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.emailer.lastTo != "user@example.com" {
		t.Errorf("lastTo = %q", env.emailer.lastTo)
	}
	if len(env.emailer.lastCode) != 6 {
		t.Errorf("code = %q, want 6 digits", env.emailer.lastCode)
	}
	for _, r := range env.emailer.lastCode {
		if r < '0' || r > '9' {
			t.Errorf("code %q contains non-digit", env.emailer.lastCode)
		}
	}
}

func TestRequestOTPRateLimited(t *testing.T) {
	env := newTestEnv(t)
	for i := range 5 {
		rec := env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": fmt.Sprintf("u%d@example.com", i)})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": "u6@example.com"})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if env.emailer.sends != 5 {
		t.Errorf("sends = %d, want 5", env.emailer.sends)
	}
}

func TestVerifyOTPSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "user@example.com")

	// Signup for an existing account is rejected.
	env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": "user@example.com"})
	rec := env.do(t, http.MethodPost, "/api/verify-otp", "", map[string]string{
		"email": "user@example.com", "otp": env.emailer.lastCode, "action": copilot.ActionSignup,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("repeat signup status = %d, want 400", rec.Code)
	}

	// Login rotates the token and invalidates the old one.
	env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": "user@example.com"})
	rec = env.do(t, http.MethodPost, "/api/verify-otp", "", map[string]string{
		"email": "user@example.com", "otp": env.emailer.lastCode, "action": copilot.ActionLogin,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	newToken, _ := decodeBody(t, rec)["authToken"].(string)
	if newToken == "" || newToken == token {
		t.Errorf("login token = %q, want fresh token", newToken)
	}

	if rec := env.do(t, http.MethodGet, "/api/profile", token, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("old token profile status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/profile", newToken, nil); rec.Code != http.StatusOK {
		t.Errorf("new token profile status = %d, want 200", rec.Code)
	}
}

func TestVerifyOTPRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": "user@example.com"})

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{
			name: "wrong code",
			body: map[string]string{"email": "user@example.com", "otp": "000000", "action": copilot.ActionSignup},
			want: http.StatusBadRequest,
		},
		{
			name: "missing otp",
			body: map[string]string{"email": "user@example.com", "action": copilot.ActionSignup},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown action",
			body: map[string]string{"email": "user@example.com", "otp": "123456", "action": "reset"},
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/verify-otp", "", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestVerifyOTPLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/request-otp", "", map[string]string{"email": "ghost@example.com"})
	rec := env.do(t, http.MethodPost, "/api/verify-otp", "", map[string]string{
		"email": "ghost@example.com", "otp": env.emailer.lastCode, "action": copilot.ActionLogin,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestVerifyOTPCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "user@example.com")

	// The code consumed during signup no longer verifies.
	rec := env.do(t, http.MethodPost, "/api/verify-otp", "", map[string]string{
		"email": "user@example.com", "otp": env.emailer.lastCode, "action": copilot.ActionLogin,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateCommentRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/generate-comment", "", copilot.GenerateRequest{
		CommentType: copilot.TypeQuestion, CommentLength: copilot.LengthMedium, PostContent: "A post.",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/generate-comment", "bogus", copilot.GenerateRequest{
		CommentType: copilot.TypeQuestion, CommentLength: copilot.LengthMedium, PostContent: "A post.",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
}

func TestGenerateComment(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "user@example.com")

	rec := env.do(t, http.MethodPost, "/api/generate-comment", token, copilot.GenerateRequest{
		CommentType:   copilot.TypeQuestion,
		CommentLength: copilot.LengthBrief,
		PostContent:   "A post about hiring.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["comment"] != env.completer.comment {
		t.Errorf("comment = %v", body["comment"])
	}
	if !strings.Contains(env.completer.lastPrompt, "EXACTLY 5 TO 10 WORDS ONLY") {
		t.Errorf("prompt missing length directive: %q", env.completer.lastPrompt)
	}
	if !strings.Contains(env.completer.lastPrompt, "A post about hiring.") {
		t.Errorf("prompt missing post content: %q", env.completer.lastPrompt)
	}
}

func TestGenerateCommentValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "user@example.com")

	tests := []struct {
		name string
		req  copilot.GenerateRequest
	}{
		{"empty post", copilot.GenerateRequest{CommentType: copilot.TypeQuestion, CommentLength: copilot.LengthMedium}},
		{"unknown type", copilot.GenerateRequest{CommentType: "rant", CommentLength: copilot.LengthMedium, PostContent: "x"}},
		{"unknown length", copilot.GenerateRequest{CommentType: copilot.TypeQuestion, CommentLength: "endless", PostContent: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/generate-comment", token, tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestProfileLazyDowngrade(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "user@example.com")

	// Expire an active subscription behind the server's back.
	user, err := env.store.UserByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("UserByEmail() error = %v", err)
	}
	expired := time.Now().UTC().Add(-time.Hour)
	user.SubscriptionStatus = copilot.StatusActive
	user.SubscriptionPlan = copilot.PlanMonthly
	user.SubscriptionExpiresAt = &expired
	if err := env.store.SaveUser(context.Background(), user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/profile", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	sub, _ := decodeBody(t, rec)["subscription"].(map[string]any)
	if sub["status"] != copilot.StatusInactive || sub["plan"] != copilot.PlanFree {
		t.Errorf("subscription = %v, want downgraded", sub)
	}

	// The downgrade is persisted, not just reported.
	stored, err := env.store.UserByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("UserByEmail() error = %v", err)
	}
	if stored.SubscriptionStatus != copilot.StatusInactive {
		t.Errorf("stored status = %q, want inactive", stored.SubscriptionStatus)
	}
}

func TestInitiatePayment(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "user@example.com")

	rec := env.do(t, http.MethodPost, "/api/initiate-payment", token, map[string]string{"plan": copilot.PlanAnnual})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	url, _ := decodeBody(t, rec)["redirectUrl"].(string)
	if !strings.HasPrefix(url, "https://copilot.example.com/pay?plan=annual&ref=") {
		t.Errorf("redirectUrl = %q", url)
	}

	rec = env.do(t, http.MethodPost, "/api/initiate-payment", token, map[string]string{"plan": copilot.PlanFree})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("free plan status = %d, want 400", rec.Code)
	}
}

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *testEnv) postWebhook(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/payment-webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "user@example.com")
	body := []byte(`{"email":"user@example.com","plan":"monthly","paymentId":"p-1"}`)

	if rec := env.postWebhook(t, body, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature status = %d, want 401", rec.Code)
	}
	if rec := env.postWebhook(t, body, "deadbeef"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong signature status = %d, want 401", rec.Code)
	}
	// A valid signature over a different body does not transfer.
	other := signWebhook([]byte(`{"email":"user@example.com","plan":"annual","paymentId":"p-2"}`))
	if rec := env.postWebhook(t, body, other); rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed signature status = %d, want 401", rec.Code)
	}
}

func TestPaymentWebhookActivatesSubscription(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "user@example.com")

	body := []byte(`{"email":"user@example.com","plan":"monthly","paymentId":"p-1"}`)
	rec := env.postWebhook(t, body, signWebhook(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/profile", token, nil)
	sub, _ := decodeBody(t, rec)["subscription"].(map[string]any)
	if sub["status"] != copilot.StatusActive || sub["plan"] != copilot.PlanMonthly {
		t.Errorf("subscription = %v, want active monthly", sub)
	}

	user, err := env.store.UserByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("UserByEmail() error = %v", err)
	}
	if user.SubscriptionExpiresAt == nil {
		t.Fatal("expiry not set")
	}
	wantExpiry := time.Now().UTC().AddDate(0, 1, 0)
	if diff := user.SubscriptionExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry = %v, want about %v", user.SubscriptionExpiresAt, wantExpiry)
	}
}

func TestPaymentWebhookUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"email":"ghost@example.com","plan":"monthly","paymentId":"p-1"}`)
	rec := env.postWebhook(t, body, signWebhook(body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

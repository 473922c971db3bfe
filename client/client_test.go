package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"comment-copilot/pkg/copilot"
	"comment-copilot/widget"
)

// The client must satisfy the widget's backend interface.
var _ widget.Generator = (*Client)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestVerifyCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/verify-otp" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["otp"] != "123456" || body["action"] != copilot.ActionSignup {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"authToken":"tok-1","email":"a@b.com","subscription":{"status":"inactive","plan":"free"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	got, err := c.VerifyCode(context.Background(), "a@b.com", "123456", copilot.ActionSignup)
	if err != nil {
		t.Fatalf("VerifyCode() error = %v", err)
	}
	if got.AuthToken != "tok-1" || got.Email != "a@b.com" {
		t.Errorf("VerifyCode() = %+v", got)
	}
	if got.Subscription.Plan != copilot.PlanFree {
		t.Errorf("subscription = %+v", got.Subscription)
	}
}

func TestGenerateCommentSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		var req copilot.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.CommentType != copilot.TypeQuestion {
			t.Errorf("commentType = %q", req.CommentType)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"comment":"What about other industries?"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	comment, err := c.GenerateComment(context.Background(), "tok-1", copilot.GenerateRequest{
		CommentType:   copilot.TypeQuestion,
		CommentLength: copilot.LengthMedium,
		PostContent:   "A post.",
	})
	if err != nil {
		t.Fatalf("GenerateComment() error = %v", err)
	}
	if comment != "What about other industries?" {
		t.Errorf("comment = %q", comment)
	}
}

func TestEnvelopeErrorsMapToDomainErrors(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    error
	}{
		{"auth required", copilot.ErrAuthRequired.Error(), copilot.ErrAuthRequired},
		{"invalid code", copilot.ErrInvalidOrExpiredCode.Error(), copilot.ErrInvalidOrExpiredCode},
		{"user exists", copilot.ErrUserExists.Error(), copilot.ErrUserExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": tt.message})
			}))
			defer srv.Close()

			c := New(srv.URL, testLogger())
			_, err := c.GenerateComment(context.Background(), "tok-1", copilot.GenerateRequest{})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			// Domain failures are final, not transient.
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	if err := c.RequestCode(context.Background(), "a@b.com"); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestInitiatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/initiate-payment" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["plan"] != copilot.PlanMonthly {
			t.Errorf("plan = %q", body["plan"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"redirectUrl":"https://copilot.example.com/pay?plan=monthly&ref=r-1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	url, err := c.InitiatePayment(context.Background(), "tok-1", copilot.PlanMonthly)
	if err != nil {
		t.Fatalf("InitiatePayment() error = %v", err)
	}
	if url != "https://copilot.example.com/pay?plan=monthly&ref=r-1" {
		t.Errorf("redirect URL = %q", url)
	}
}

func TestProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"email":"a@b.com","subscription":{"status":"active","plan":"monthly"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	got, err := c.Profile(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if got.Email != "a@b.com" || got.Subscription.Status != copilot.StatusActive {
		t.Errorf("Profile() = %+v", got)
	}
}

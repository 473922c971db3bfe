// Package main implements the Comment Copilot backend: OTP-based email
// authentication, subscription tracking, and proxied comment generation
// against an external language-model provider.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"comment-copilot/email"
	"comment-copilot/llm"
	"comment-copilot/server"
	"comment-copilot/storage"
)

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Check for local development mode
	localStorage := os.Getenv("LOCAL_STORAGE")
	bucket := os.Getenv("STORAGE_BUCKET")
	baseURL := os.Getenv("BASE_URL")

	// Default to local development mode if no bucket specified
	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	salt := os.Getenv("STORAGE_SALT")
	if salt == "" {
		if localStorage == "" {
			logger.Error("STORAGE_SALT environment variable required")
			os.Exit(1)
		}
		salt = "local-dev-salt"
		logger.Info("No STORAGE_SALT set, using development salt")
	}

	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	if webhookSecret == "" && localStorage == "" {
		logger.Error("WEBHOOK_SECRET environment variable required")
		os.Exit(1)
	}

	var storageClient *gcs.Client
	if localStorage != "" {
		logger.Info("Running in local development mode", "storage_path", localStorage)
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}

		// Create local storage directory
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		if baseURL == "" {
			logger.Error("BASE_URL environment variable required (e.g., https://your-service.run.app)")
			os.Exit(1)
		}

		var err error
		storageClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	store := storage.New(storageClient, bucket, localStorage, []byte(salt), logger)

	provider, err := initEmailProvider(ctx, logger)
	if err != nil {
		logger.Error("Failed to initialize email provider", "error", err)
		os.Exit(1)
	}
	emailer := email.New(provider, logger, os.Getenv("EMAIL_FROM"))

	completer, err := initCompleter(logger)
	if err != nil {
		logger.Error("Failed to initialize completion provider", "error", err)
		os.Exit(1)
	}

	srv := server.New(&server.Config{
		Store:         store,
		Emailer:       emailer,
		Completer:     completer,
		Logger:        logger,
		IsNotFound:    storage.IsNotFound,
		WebhookSecret: []byte(webhookSecret),
		BaseURL:       baseURL,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info("Starting HTTP server", "port", port)
	if err := srv.ListenAndServe(port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// initEmailProvider selects the verification-code delivery channel from
// EMAIL_PROVIDER (gmail, brevo, mock). Unset defaults to mock so local
// development needs no credentials.
func initEmailProvider(ctx context.Context, logger *slog.Logger) (email.Provider, error) {
	switch os.Getenv("EMAIL_PROVIDER") {
	case "gmail":
		service, err := initGmailService(ctx)
		if err != nil {
			return nil, err
		}
		return email.NewGmailProvider(service, logger), nil
	case "brevo":
		apiKey := os.Getenv("BREVO_API_KEY")
		if apiKey == "" {
			return nil, errors.New("BREVO_API_KEY required for the brevo provider")
		}
		return email.NewBrevoProvider(apiKey, os.Getenv("EMAIL_FROM"), "Comment Copilot", logger), nil
	case "mock", "":
		logger.Info("Mock email mode enabled")
		return email.NewMockProvider(logger), nil
	default:
		return nil, errors.New("unknown EMAIL_PROVIDER (want gmail, brevo or mock)")
	}
}

// initCompleter selects the model provider from LLM_PROVIDER (openai,
// anthropic, mock). Unset defaults to mock.
func initCompleter(logger *slog.Logger) (server.Completer, error) {
	switch os.Getenv("LLM_PROVIDER") {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY required for the openai provider")
		}
		return llm.NewOpenAIProvider(apiKey, os.Getenv("OPENAI_MODEL"), logger), nil
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY required for the anthropic provider")
		}
		return llm.NewAnthropicProvider(apiKey, os.Getenv("ANTHROPIC_MODEL"), logger), nil
	case "mock", "":
		logger.Info("Mock completion mode enabled")
		return llm.NewMockProvider(logger), nil
	default:
		return nil, errors.New("unknown LLM_PROVIDER (want openai, anthropic or mock)")
	}
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	// Try explicit credentials first (for local development or specific use cases)
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// If running in Cloud Run, use Application Default Credentials (ADC)
	// The service account needs Gmail API access (gmail.send scope)
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	// Not in Cloud Run and no explicit credentials
	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/poolsight/internal/handlers"
	"github.com/MegaGrindStone/poolsight/internal/identity"
	"github.com/MegaGrindStone/poolsight/internal/services"
	"github.com/MegaGrindStone/poolsight/internal/session"
	"gopkg.in/yaml.v3"
)

type analyzerConfig interface {
	analyzer(logger *slog.Logger) (session.Analyzer, error)
}

type imagesConfig interface {
	// allocator returns the image allocator and, when images are served by this server, the handler
	// that serves them.
	allocator(ctx context.Context, logger *slog.Logger) (session.ImageAllocator, http.Handler, error)
}

// BaseAnalyzerConfig contains the common fields for all analyzer configurations.
type BaseAnalyzerConfig struct {
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
}

type config struct {
	Port     string         `yaml:"port"`
	LogLevel string         `yaml:"logLevel"`
	DBPath   string         `yaml:"dbPath"`
	Analyzer analyzerConfig `yaml:"analyzer"`
	Images   imagesConfig   `yaml:"images"`
	Profiles profilesConfig `yaml:"profiles"`
	Identity identityConfig `yaml:"identity"`
}

type webhookConfig struct {
	BaseAnalyzerConfig `yaml:",inline"`
	URL                string `yaml:"url"`
}

type ollamaConfig struct {
	BaseAnalyzerConfig `yaml:",inline"`
	Host               string `yaml:"host"`
	Model              string `yaml:"model"`
	Prompt             string `yaml:"prompt"`
}

type openAIConfig struct {
	BaseAnalyzerConfig `yaml:",inline"`
	APIKey             string `yaml:"apiKey"`
	BaseURL            string `yaml:"baseURL"`
	Model              string `yaml:"model"`
	Prompt             string `yaml:"prompt"`
}

type memoryImagesConfig struct {
	Provider string `yaml:"provider"`
}

type minioImagesConfig struct {
	Provider  string        `yaml:"provider"`
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"accessKey"`
	SecretKey string        `yaml:"secretKey"`
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region"`
	UseSSL    bool          `yaml:"useSSL"`
	URLExpiry time.Duration `yaml:"urlExpiry"`
}

type profilesConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// identityConfig names the OpenID Connect issuer whose ID tokens are accepted. Setting Sub instead pins
// every request to one identity, for local runs without a sign-in flow.
type identityConfig struct {
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"clientID"`

	Sub   string `yaml:"sub"`
	Token string `yaml:"token"`
}

const (
	defaultPort      = "8080"
	imagesPathPrefix = "/images/"

	defaultAnalysisPrompt = "You are a pool maintenance assistant. Look at the photo of the pool and " +
		"describe its condition: water clarity, color, algae, debris and visible equipment issues. " +
		"Recommend concrete treatment steps. If the photo doesn't show a pool, reply that the " +
		"AI is unable to analyze it."
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port     string         `yaml:"port"`
		LogLevel string         `yaml:"logLevel"`
		DBPath   string         `yaml:"dbPath"`
		Analyzer map[string]any `yaml:"analyzer"`
		Images   map[string]any `yaml:"images"`
		Profiles profilesConfig `yaml:"profiles"`
		Identity identityConfig `yaml:"identity"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.LogLevel = rawConfig.LogLevel
	c.DBPath = rawConfig.DBPath
	c.Profiles = rawConfig.Profiles
	c.Identity = rawConfig.Identity

	analyzerProvider, ok := rawConfig.Analyzer["provider"].(string)
	if !ok {
		return fmt.Errorf("analyzer provider is required")
	}

	var analyzer analyzerConfig
	switch analyzerProvider {
	case "webhook":
		analyzer = &webhookConfig{}
	case "ollama":
		analyzer = &ollamaConfig{}
	case "openai":
		analyzer = &openAIConfig{}
	default:
		return fmt.Errorf("unknown analyzer provider: %s", analyzerProvider)
	}
	if err := remarshal(rawConfig.Analyzer, analyzer); err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}
	c.Analyzer = analyzer

	imagesProvider, _ := rawConfig.Images["provider"].(string)

	var images imagesConfig
	switch imagesProvider {
	case "", "memory":
		images = &memoryImagesConfig{}
	case "minio":
		images = &minioImagesConfig{}
	default:
		return fmt.Errorf("unknown images provider: %s", imagesProvider)
	}
	if err := remarshal(rawConfig.Images, images); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	c.Images = images

	return nil
}

func remarshal(raw map[string]any, out any) error {
	rawYAML, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(rawYAML, out)
}

func (c config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (w webhookConfig) analyzer(logger *slog.Logger) (session.Analyzer, error) {
	url := w.URL
	if url == "" {
		url = os.Getenv("POOLSIGHT_WEBHOOK_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	return services.NewWebhook(url, w.Timeout, logger), nil
}

func (o ollamaConfig) analyzer(*slog.Logger) (session.Analyzer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, promptOr(o.Prompt), httpClient(o.Timeout)), nil
}

func (o openAIConfig) analyzer(logger *slog.Logger) (session.Analyzer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, promptOr(o.Prompt), httpClient(o.Timeout), logger), nil
}

func (memoryImagesConfig) allocator(context.Context, *slog.Logger) (session.ImageAllocator, http.Handler, error) {
	blobs := services.NewBlobs(imagesPathPrefix)
	return blobs, blobs, nil
}

func (m minioImagesConfig) allocator(ctx context.Context, logger *slog.Logger) (session.ImageAllocator, http.Handler, error) {
	accessKey := m.AccessKey
	if accessKey == "" {
		accessKey = os.Getenv("MINIO_ACCESS_KEY")
	}
	secretKey := m.SecretKey
	if secretKey == "" {
		secretKey = os.Getenv("MINIO_SECRET_KEY")
	}

	store, err := services.NewMinIO(services.MinIOConfig{
		Endpoint:  m.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    m.Bucket,
		Region:    m.Region,
		UseSSL:    m.UseSSL,
		URLExpiry: m.URLExpiry,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, err
	}
	return store, nil, nil
}

func (i identityConfig) provider(ctx context.Context, logger *slog.Logger) (handlers.IdentityFunc, error) {
	if i.Sub != "" {
		static := identity.Static{Sub: i.Sub, IDToken: i.Token}
		logger.Warn("Using a static identity for every request", slog.String("subject", static.Sub))
		return func(*http.Request) session.IdentityProvider { return static }, nil
	}

	issuer := i.Issuer
	if issuer == "" {
		issuer = os.Getenv("OIDC_ISSUER")
	}
	clientID := i.ClientID
	if clientID == "" {
		clientID = os.Getenv("OIDC_CLIENT_ID")
	}
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("identity issuer and clientID are required without a static identity")
	}

	verifier, err := identity.NewVerifier(ctx, issuer, clientID)
	if err != nil {
		return nil, err
	}
	return func(r *http.Request) session.IdentityProvider {
		return identity.FromRequest(r, verifier)
	}, nil
}

func promptOr(prompt string) string {
	if prompt == "" {
		return defaultAnalysisPrompt
	}
	return prompt
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = services.DefaultWebhookTimeout
	}
	return &http.Client{Timeout: timeout}
}

package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Provider names the supported LLM backends.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// ClientConfig configures a provider client.
type ClientConfig struct {
	// Provider selects the backend. Defaults to anthropic.
	Provider Provider
	// Model is the model identifier to report in diagnostics.
	Model string
	// APIKeyEnv is the environment variable holding the Anthropic API key.
	APIKeyEnv string
	// AWSRegion is the region for the bedrock provider.
	AWSRegion string
	// AWSProfile is the optional shared-config profile for bedrock.
	AWSProfile string
}

// HealthChecker verifies a provider is usable before a phase starts, so
// that credential problems surface as config_required instead of burning
// the phase's retry budget mid-flight.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Client wraps the Anthropic SDK client for both direct and Bedrock paths.
type Client struct {
	cfg   ClientConfig
	inner anthropic.Client
}

// NewClient builds a provider client. For the bedrock provider, credential
// resolution happens at health-check time, not here.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Provider == "" {
		cfg.Provider = ProviderAnthropic
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "ANTHROPIC_API_KEY"
	}

	var opts []option.RequestOption
	switch cfg.Provider {
	case ProviderBedrock:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	default:
		if key := os.Getenv(cfg.APIKeyEnv); key != "" {
			opts = append(opts, option.WithAPIKey(key))
		}
	}

	return &Client{cfg: cfg, inner: anthropic.NewClient(opts...)}
}

// HealthCheck verifies that the configured provider can authenticate.
// Failures come back classified: missing or rejected credentials are
// config_required, availability problems are transient.
func (c *Client) HealthCheck(ctx context.Context) error {
	switch c.cfg.Provider {
	case ProviderBedrock:
		return c.bedrockHealthCheck(ctx)
	default:
		return c.anthropicHealthCheck(ctx)
	}
}

func (c *Client) anthropicHealthCheck(ctx context.Context) error {
	if os.Getenv(c.cfg.APIKeyEnv) == "" {
		return NewProviderError(KindConfigRequired, fmt.Sprintf("missing env var: %s", c.cfg.APIKeyEnv))
	}
	// The models listing is the cheapest authenticated call the API offers.
	if _, err := c.inner.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *Client) bedrockHealthCheck(ctx context.Context) error {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if c.cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(c.cfg.AWSRegion))
	}
	if c.cfg.AWSProfile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(c.cfg.AWSProfile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return NewProviderError(KindConfigRequired, fmt.Sprintf("load AWS config: %v", err))
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return NewProviderError(KindConfigRequired, fmt.Sprintf("resolve AWS credentials: %v", err))
	}
	return nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

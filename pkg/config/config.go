// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config resolves SDK configuration from explicit options and
// environment variables. Explicit options always win; environment variables
// fill the gaps; built-in defaults cover the rest.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/teradata-labs/lens/internal/version"
)

// Framework and provider identifiers accepted by WithFramework.
const (
	FrameworkLangChainGo = "langchaingo"
	FrameworkGenkit      = "genkit"
	FrameworkEino        = "eino"

	ProviderBedrock      = "bedrock"
	ProviderBedrockAgent = "bedrock-agent"
	ProviderAnthropic    = "anthropic"
)

// frameworkKeys lists identifiers treated as agent frameworks rather than
// model providers. At most one framework may be active at a time.
var frameworkKeys = []string{FrameworkLangChainGo, FrameworkGenkit, FrameworkEino}

// DefaultEndpoint is the local collector address used when neither an
// explicit endpoint nor an environment variable provides one.
const DefaultEndpoint = "http://127.0.0.1:5388"

// Config is the resolved, immutable SDK configuration.
type Config struct {
	// Disabled makes every SDK entry point a no-op.
	Disabled bool

	// Endpoint is the collector base URL, scheme included, no trailing slash.
	Endpoint string

	// APIKey, when set, is sent as a bearer token on export and health calls.
	APIKey string

	// ProjectID selects the collector project traces are written to.
	ProjectID string

	// Framework is the agent framework being instrumented, if any.
	Framework string

	// Providers are the model-provider clients to instrument.
	Providers []string

	// ServiceName and ServiceVersion populate the telemetry resource.
	ServiceName    string
	ServiceVersion string

	// CaptureContent controls whether prompt and completion content is
	// recorded on spans. Token usage and model attributes are always kept.
	CaptureContent bool

	// EncodeBinary controls whether binary payloads (images, documents) are
	// base64-encoded into span data rather than replaced with placeholders.
	EncodeBinary bool

	// Debug raises SDK log verbosity.
	Debug bool
}

// Option customizes configuration resolution.
type Option func(*options)

type options struct {
	disabled       *bool
	endpoint       string
	apiKey         string
	projectID      string
	frameworks     []string
	serviceName    string
	serviceVersion string
	captureContent *bool
	encodeBinary   *bool
	debug          *bool
}

// WithDisabled forces the SDK on or off regardless of LENS_DISABLED.
func WithDisabled(disabled bool) Option {
	return func(o *options) { o.disabled = &disabled }
}

// WithEndpoint sets the collector base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithAPIKey sets the collector API key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithProject sets the collector project ID.
func WithProject(id string) Option {
	return func(o *options) { o.projectID = id }
}

// WithFramework declares the frameworks and providers to instrument.
// Identifiers matching a known framework become the framework; everything
// else is treated as a provider. At most one framework is allowed.
func WithFramework(names ...string) Option {
	return func(o *options) { o.frameworks = append(o.frameworks, names...) }
}

// WithService overrides the service name and version reported on spans.
func WithService(name, ver string) Option {
	return func(o *options) {
		o.serviceName = name
		o.serviceVersion = ver
	}
}

// WithCaptureContent controls prompt/completion capture. Defaults to true.
func WithCaptureContent(capture bool) Option {
	return func(o *options) { o.captureContent = &capture }
}

// WithEncodeBinary controls base64 encoding of binary payloads. Defaults to true.
func WithEncodeBinary(encode bool) Option {
	return func(o *options) { o.encodeBinary = &encode }
}

// WithDebug raises SDK log verbosity.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = &debug }
}

// New resolves a Config from the given options and the environment.
//
// Environment variables consulted: LENS_DISABLED, LENS_ENDPOINT,
// OTEL_EXPORTER_OTLP_ENDPOINT, LENS_API_KEY, LENS_PROJECT, LENS_DEBUG.
func New(opts ...Option) (*Config, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	framework, providers, err := partitionFramework(o.frameworks)
	if err != nil {
		return nil, err
	}

	endpoint := o.endpoint
	if endpoint == "" {
		endpoint = os.Getenv("LENS_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	endpoint, err = normalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	apiKey := o.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("LENS_API_KEY")
	}

	projectID := o.projectID
	if projectID == "" {
		projectID = os.Getenv("LENS_PROJECT")
	}
	if projectID == "" {
		projectID = "default"
	}

	serviceName := o.serviceName
	if serviceName == "" {
		if framework != "" {
			serviceName = framework
		} else {
			serviceName = "lens"
		}
	}
	serviceVersion := o.serviceVersion
	if serviceVersion == "" {
		serviceVersion = version.Get()
	}

	cfg := &Config{
		Disabled:       resolveBool(o.disabled, "LENS_DISABLED", false),
		Endpoint:       endpoint,
		APIKey:         apiKey,
		ProjectID:      projectID,
		Framework:      framework,
		Providers:      providers,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		CaptureContent: resolveBool(o.captureContent, "", true),
		EncodeBinary:   resolveBool(o.encodeBinary, "", true),
		Debug:          resolveBool(o.debug, "LENS_DEBUG", false),
	}
	return cfg, nil
}

// TracesURL returns the OTLP/HTTP traces endpoint for this config's project.
func (c *Config) TracesURL() string {
	return fmt.Sprintf("%s/otel/%s/v1/traces", c.Endpoint, c.ProjectID)
}

// HealthURL returns the collector health-check endpoint.
func (c *Config) HealthURL() string {
	return c.Endpoint + "/api/v1/health"
}

// partitionFramework splits identifiers into one framework and a provider
// list. Unknown identifiers are treated as providers.
func partitionFramework(names []string) (string, []string, error) {
	var framework string
	var providers []string
	for _, name := range names {
		if slices.Contains(frameworkKeys, name) {
			if framework != "" && framework != name {
				return "", nil, fmt.Errorf("at most one framework allowed, got %q and %q", framework, name)
			}
			framework = name
			continue
		}
		if !slices.Contains(providers, name) {
			providers = append(providers, name)
		}
	}
	return framework, providers, nil
}

func normalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "", fmt.Errorf("invalid endpoint %q: must start with http:// or https://", endpoint)
	}
	return strings.TrimRight(endpoint, "/"), nil
}

// resolveBool applies explicit > env > default precedence. An empty envKey
// skips the environment lookup.
func resolveBool(explicit *bool, envKey string, def bool) bool {
	if explicit != nil {
		return *explicit
	}
	if envKey == "" {
		return def
	}
	switch strings.ToLower(os.Getenv(envKey)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}

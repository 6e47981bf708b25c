package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment placeholder forms accepted inside YAML values:
// ${VAR:-default}, ${VAR}, $VAR.
var (
	reVarWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	reVarBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	reVarBare        = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// LoadDotEnv loads .env.local then .env from the working directory.
// Missing files are not an error.
func LoadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// expandEnv substitutes environment placeholders in a string.
func expandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = reVarWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := reVarWithDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = reVarBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := reVarBraced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = reVarBare.ReplaceAllStringFunc(s, func(match string) string {
		parts := reVarBare.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// expandEnvInData walks decoded YAML and expands placeholders in every
// string value. Expanded values are re-typed (bool, int, float) so that
// "${PORT:-8080}" decodes into an int field.
func expandEnvInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		expanded := expandEnv(v)
		if expanded != v {
			return retype(expanded)
		}
		return expanded
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[key] = expandEnvInData(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = expandEnvInData(item)
		}
		return out
	default:
		return v
	}
}

func retype(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// Typed env readers. Empty or malformed values fall back to the default.

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// ProviderAPIKey resolves the conventional API key env var for a provider.
func ProviderAPIKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "ollama":
		return "" // local runtime, no key
	default:
		return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
	}
}

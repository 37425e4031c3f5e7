package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"live":  environmentProduction,
	"stag":  environmentStaging,
	"stage": environmentStaging,
}

// AppEnvironment reads APP_ENV, normalises known aliases and defaults to
// development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolvePath picks the configuration file for the current environment. An
// explicit path always wins. Otherwise config/config.<env>.yml is preferred
// over config/config.yml; when neither exists the empty string is returned
// and LoadConfig falls back to defaults plus environment.
func ResolvePath(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{
		filepath.Join(dir, "config."+AppEnvironment()+".yml"),
		filepath.Join(dir, "config.yml"),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// EnvFiles lists the dotenv files to load, in order. Later files do not
// override values set by earlier ones, so .env.default only fills gaps.
func EnvFiles(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	var files []string
	for _, name := range []string{".env", ".env.default"} {
		if _, err := os.Stat(name); err == nil {
			files = append(files, name)
		}
	}
	return files
}

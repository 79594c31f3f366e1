package env

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// RequireEnv returns the value for key or an error when it is missing.
// Used for credentials the service cannot start without.
func RequireEnv(key string) (string, error) {
	if val := GetEnv(key, ""); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("required environment variable %s is not set", key)
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/* to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			// Successfully loaded env file
			return
		}
	}

	// If we get here, no env file was found
	panic("No .env file found in any of the expected locations")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}

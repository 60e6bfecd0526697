package envutil

import (
	"os"
	"strings"
)

// EnvVar selects the runtime environment.
const EnvVar = "SIGNIN_ENV"

// IsDev checks if we're running in development mode, where plain-string
// secrets and non-Secure cookies are tolerated for local testing.
func IsDev() bool {
	env := strings.ToLower(os.Getenv(EnvVar))
	return env == "development" || env == "dev"
}

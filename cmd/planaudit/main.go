// Command planaudit audits construction plans against a defect catalog.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/planaudit/internal/adapters/driving/cli"
)

// version is set at build time with -ldflags "-X main.version=v1.2.3".
var version = ""

func main() {
	// Load .env file if it exists (for API keys)
	_ = godotenv.Load()

	os.Exit(cli.Execute(version))
}

// Command token-generator prints a signed access token for local testing.
// The signing secret is read from DOCSAGE_AUTH_JWT_SECRET.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/config"
	"github.com/phrazzld/docsage-api/internal/service/auth"
)

func main() {
	userFlag := flag.String("user", "", "user ID to embed in the token (random when empty)")
	lifetime := flag.Int("lifetime", 60, "token lifetime in minutes")
	flag.Parse()

	userID := uuid.New()
	if *userFlag != "" {
		parsed, err := uuid.Parse(*userFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid user ID %q: %v\n", *userFlag, err)
			os.Exit(2)
		}
		userID = parsed
	}

	svc, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            os.Getenv(config.EnvPrefix + "_AUTH_JWT_SECRET"),
		TokenLifetimeMinutes: *lifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating token service: %v\n", err)
		os.Exit(1)
	}

	token, err := svc.GenerateToken(context.Background(), userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("User: %s\nToken: %s\n", userID, token)
}

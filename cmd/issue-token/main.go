package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/railconnect/booking-backend/pkg/jwt"
)

// issue-token mints an access token for local testing against the booking API
func main() {
	userID := flag.String("user", "", "user id placed in the token (required)")
	roles := flag.String("roles", "passenger", "comma separated roles")
	expiry := flag.Duration("expiry", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	if *userID == "" {
		log.Fatal("-user is required")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	var roleList []string
	for _, role := range strings.Split(*roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roleList = append(roleList, role)
		}
	}

	token, err := jwt.NewService(secret, *expiry).GenerateAccessToken(*userID, roleList)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(token)
}

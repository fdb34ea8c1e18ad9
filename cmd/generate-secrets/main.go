package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/railconnect/booking-backend/internal/utils"
)

func main() {
	bytes := flag.Int("bytes", 32, "number of random bytes in the secret")
	flag.Parse()

	if *bytes < 32 {
		log.Fatal("-bytes must be at least 32 for an HS256 signing key")
	}

	fmt.Println("===========================================")
	fmt.Println("JWT Secret Generator for RailConnect")
	fmt.Println("===========================================")
	fmt.Println()

	secret, err := utils.GenerateSecret(*bytes)
	if err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	fmt.Println("Add this to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secret)
	fmt.Println()
	fmt.Println("Keep this secret safe and never commit it to version control.")
	fmt.Println("===========================================")
}

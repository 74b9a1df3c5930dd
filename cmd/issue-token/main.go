package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/service"
)

// issue-token mints a student token signed with JWT_SECRET for local
// testing against a host running without the portal.
func main() {
	userID := flag.Int("user", 0, "Student user id")
	ttl := flag.Duration("ttl", 4*time.Hour, "Token lifetime")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user must be a positive id")
		os.Exit(2)
	}

	cfg := config.Load()
	token, err := service.NewAuthService(cfg).IssueToken(service.TokenTypeStudent, *userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// Command token mints access tokens for local testing against a running
// server.  It signs with JWT_SECRET, read from the environment or .env.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "owner id to put in the token subject")
	role := flag.String("role", model.RoleCommuter, "COMMUTER or ADMIN")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logrus.Fatal("JWT_SECRET is not set")
	}
	if *role != model.RoleCommuter && *role != model.RoleAdmin {
		logrus.Fatalf("unknown role %q", *role)
	}

	tok, err := utils.NewAccessToken(secret, *sub, *role, *ttl)
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println(tok.Token)
}

// issuetoken mints a bearer token for local testing of the API.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"pointage/internal/auth"
	"pointage/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.Load()
	var (
		actor auth.Actor
		perms string
	)
	flags := pflag.NewFlagSet("issuetoken", pflag.ContinueOnError)
	flags.StringVar(&actor.UserID, "user", "", "subject (user or student id)")
	flags.StringVar(&actor.Role, "role", "manager", "role claim")
	flags.StringVar(&actor.City, "city", "", "city scope; empty means any")
	flags.StringVar(&actor.EstablishmentID, "establishment", "", "establishment scope; empty means any")
	flags.StringVar(&perms, "perms", strings.Join([]string{auth.PermRead, auth.PermWrite, auth.PermReconcile, auth.PermGenerate}, ","), "comma separated permissions")
	ttl := flags.Duration("ttl", cfg.AccessTTL, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if actor.UserID == "" {
		return fmt.Errorf("--user is required")
	}
	for _, p := range strings.Split(perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			actor.Permissions = append(actor.Permissions, p)
		}
	}
	tok, exp, err := auth.Issue(actor, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02 15:04:05 MST"))
	return nil
}

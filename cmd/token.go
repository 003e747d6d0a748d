package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/semreview/internal/api"
	"github.com/semreview/internal/config"
)

// TokenCommand mints an access token for local and scripted use.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an API access token",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "user",
				Usage: "User id to embed in the token",
				Value: 1,
			},
			&cli.Int64Flag{
				Name:  "org",
				Usage: "Organization id to embed in the token",
				Value: 1,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}

			token, err := api.IssueToken(cfg.Server.JWTSecret, c.Int64("user"), c.Int64("org"), c.Duration("ttl"))
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			fmt.Println(token)
			return nil
		},
	}
}

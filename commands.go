package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/jsoncodec"
	"github.com/wricardo/courtside/tokenstore"
	"github.com/wricardo/courtside/transport/mcp"
)

func (a *app) loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in and store the access token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "read from stdin when omitted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			password, err := promptSecret(cmd.String("password"), "Password")
			if err != nil {
				return err
			}

			tokens, err := a.service().Login(ctx, cmd.String("username"), password)
			if err != nil {
				return err
			}
			if tokens.User != nil {
				fmt.Printf("Logged in as %s\n", tokens.User.Username)
			} else {
				fmt.Println("Logged in")
			}
			return nil
		},
	}
}

func (a *app) logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the stored tokens",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.service().Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func (a *app) tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "inspect the token store",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print where the token is stored and when it expires",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					token, err := a.tokens.Token()
					if err != nil {
						return err
					}
					fmt.Print(describeToken(a.tokens.Path(), token, time.Now()))
					return nil
				},
			},
			{
				Name:  "migrate",
				Usage: "move a token saved by an older client to the current key",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					moved, err := a.tokens.MigrateLegacy()
					if err != nil {
						return err
					}
					if moved {
						fmt.Println("Legacy token migrated")
					} else {
						fmt.Println("Nothing to migrate")
					}
					return nil
				},
			},
		},
	}
}

func describeToken(path, token string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Token file: %s\n", path)
	if token == "" {
		b.WriteString("Not logged in\n")
		return b.String()
	}

	claims, err := tokenstore.Inspect(token)
	switch {
	case errors.Is(err, tokenstore.ErrNoExpiration):
		b.WriteString("Access token present, no expiry\n")
	case err != nil:
		fmt.Fprintf(&b, "Access token present but unreadable: %v\n", err)
	case claims.Expired(now):
		fmt.Fprintf(&b, "Access token expired at %s\n", claims.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(&b, "Access token valid until %s (user %v)\n", claims.ExpiresAt.Format(time.RFC3339), claims.UserID)
	}
	return b.String()
}

func printJSON(v any) error {
	data, err := jsoncodec.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func (a *app) courtsCommand() *cli.Command {
	return &cli.Command{
		Name:  "courts",
		Usage: "list courts or check which are free",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "RFC 3339 start; with --to, shows availability"},
			&cli.StringFlag{Name: "to", Usage: "RFC 3339 end"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc := a.service()
			if cmd.String("from") == "" && cmd.String("to") == "" {
				courts, err := svc.ListCourts(ctx)
				if err != nil {
					return err
				}
				return printJSON(courts)
			}

			start, err := time.Parse(time.RFC3339, cmd.String("from"))
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := time.Parse(time.RFC3339, cmd.String("to"))
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			avail, err := svc.CheckAvailability(ctx, start, end)
			if err != nil {
				return err
			}
			return printJSON(avail)
		},
	}
}

func (a *app) bookingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "bookings",
		Usage: "list your bookings",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			bookings, err := a.service().ListBookings(ctx)
			if err != nil {
				return err
			}
			return printJSON(bookings)
		},
	}
}

func (a *app) matchesCommand() *cli.Command {
	return &cli.Command{
		Name:  "matches",
		Usage: "list open matches, or yours with --mine",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "mine", Usage: "only upcoming matches you take part in"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc := a.service()
			list := svc.ListOpenMatches
			if cmd.Bool("mine") {
				list = svc.MyUpcomingMatches
			}
			matches, err := list(ctx)
			if err != nil {
				return err
			}
			return printJSON(matches)
		},
	}
}

func (a *app) mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve the booking tools over MCP stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			live, err := a.realtimeService(ctx, a.cfg.MetricsAddr)
			if err != nil {
				return err
			}
			defer live.Shutdown()
			a.follow(live)

			a.logger.Info("MCP stdio server ready", zap.String("api", a.cfg.APIURL))
			return mcp.NewServer(a.service(), live, a.logger).ServeStdio()
		},
	}
}

func parseMatchID(raw string) (int, error) {
	return parseID("match", raw)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

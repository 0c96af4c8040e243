package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/courtside/domain"
)

func parseID(kind, raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, raw)
	}
	return id, nil
}

// promptSecret returns value, or reads one line from stdin after printing label.
func promptSecret(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(os.Stderr, label+": ")
	return readLine(os.Stdin)
}

// optionalString returns a pointer to the flag value when the flag was given.
func optionalString(cmd *cli.Command, name string) *string {
	if !cmd.IsSet(name) {
		return nil
	}
	v := cmd.String(name)
	return &v
}

func (a *app) registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create a client account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "read from stdin when omitted"},
			&cli.StringFlag{Name: "first-name"},
			&cli.StringFlag{Name: "last-name"},
			&cli.StringFlag{Name: "birth-date", Usage: "YYYY-MM-DD"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			password, err := promptSecret(cmd.String("password"), "Password")
			if err != nil {
				return err
			}
			user, err := a.service().Register(ctx, domain.Registration{
				Username:  cmd.String("username"),
				Email:     cmd.String("email"),
				Password:  password,
				FirstName: cmd.String("first-name"),
				LastName:  cmd.String("last-name"),
				BirthDate: cmd.String("birth-date"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (#%d), log in with: courtside login -u %s\n", user.Username, user.ID, user.Username)
			return nil
		},
	}
}

func (a *app) passwdCommand() *cli.Command {
	return &cli.Command{
		Name:  "passwd",
		Usage: "change your password",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "current", Usage: "read from stdin when omitted"},
			&cli.StringFlag{Name: "new", Usage: "read from stdin when omitted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			current, err := promptSecret(cmd.String("current"), "Current password")
			if err != nil {
				return err
			}
			next, err := promptSecret(cmd.String("new"), "New password")
			if err != nil {
				return err
			}
			if err := a.service().ChangePassword(ctx, current, next); err != nil {
				return err
			}
			fmt.Println("Password changed")
			return nil
		},
	}
}

func (a *app) profileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "show your profile, or change it with flags",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username"},
			&cli.StringFlag{Name: "email"},
			&cli.StringFlag{Name: "first-name"},
			&cli.StringFlag{Name: "last-name"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc := a.service()
			update := domain.ProfileUpdate{
				Username:  optionalString(cmd, "username"),
				Email:     optionalString(cmd, "email"),
				FirstName: optionalString(cmd, "first-name"),
				LastName:  optionalString(cmd, "last-name"),
			}
			if update == (domain.ProfileUpdate{}) {
				user, err := svc.Me(ctx)
				if err != nil {
					return err
				}
				return printJSON(user)
			}
			user, err := svc.UpdateProfile(ctx, update)
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	}
}

func (a *app) courtCommand() *cli.Command {
	return &cli.Command{
		Name:  "court",
		Usage: "manage courts (staff only)",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "add an active court",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "price", Required: true, Usage: "hourly price, e.g. 18000.00"},
					&cli.StringFlag{Name: "description"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					court, err := a.service().CreateCourt(ctx, domain.NewCourt{
						Name:        cmd.String("name"),
						Price:       cmd.String("price"),
						Description: cmd.String("description"),
					})
					if err != nil {
						return err
					}
					return printJSON(court)
				},
			},
			{
				Name:      "update",
				Usage:     "change a court",
				ArgsUsage: "<court id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "price"},
					&cli.StringFlag{Name: "description"},
					&cli.BoolFlag{Name: "active", Usage: "--active or --active=false"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := parseID("court", cmd.Args().First())
					if err != nil {
						return err
					}
					u := domain.CourtUpdate{
						Name:        optionalString(cmd, "name"),
						Price:       optionalString(cmd, "price"),
						Description: optionalString(cmd, "description"),
					}
					if cmd.IsSet("active") {
						active := cmd.Bool("active")
						u.IsActive = &active
					}
					court, err := a.service().UpdateCourt(ctx, id, u)
					if err != nil {
						return err
					}
					return printJSON(court)
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a court",
				ArgsUsage: "<court id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := parseID("court", cmd.Args().First())
					if err != nil {
						return err
					}
					if err := a.service().DeleteCourt(ctx, id); err != nil {
						return err
					}
					fmt.Printf("Court #%d deleted\n", id)
					return nil
				},
			},
		},
	}
}

func (a *app) userCommand() *cli.Command {
	setActive := func(active bool, verb string) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			id, err := parseID("user", cmd.Args().First())
			if err != nil {
				return err
			}
			if err := a.service().SetUserActive(ctx, id, active); err != nil {
				return err
			}
			fmt.Printf("User #%d %s\n", id, verb)
			return nil
		}
	}

	return &cli.Command{
		Name:  "user",
		Usage: "manage user accounts (staff only)",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list every user",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					users, err := a.service().ListUsers(ctx)
					if err != nil {
						return err
					}
					return printJSON(users)
				},
			},
			{Name: "activate", Usage: "let a user log in again", ArgsUsage: "<user id>", Action: setActive(true, "activated")},
			{Name: "deactivate", Usage: "block a user from logging in", ArgsUsage: "<user id>", Action: setActive(false, "deactivated")},
			{
				Name:      "delete",
				Usage:     "delete a user account",
				ArgsUsage: "<user id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := parseID("user", cmd.Args().First())
					if err != nil {
						return err
					}
					if err := a.service().DeleteUser(ctx, id); err != nil {
						return err
					}
					fmt.Printf("User #%d deleted\n", id)
					return nil
				},
			},
		},
	}
}

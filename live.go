package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/events"
	"github.com/wricardo/courtside/realtime"
	"github.com/wricardo/courtside/realtime/binding"
)

var errNotLoggedIn = errors.New("not logged in, run: courtside login -u <username>")

func pushChannel(name string) (realtime.Channel, error) {
	switch name {
	case "bookings":
		return realtime.Bookings, nil
	case "users":
		return realtime.Users, nil
	case "matches":
		return realtime.Matches, nil
	}
	return realtime.Channel{}, fmt.Errorf("unknown channel %q, want bookings, users or matches", name)
}

// ended reports whether a channel in status st will not reconnect by itself.
func ended(st realtime.Status, terminal func(int) bool) bool {
	return st.State == realtime.StateClosed && (st.Exhausted || terminal(st.LastCloseCode))
}

// waitChannel blocks until ctx is done or client stops for good. It returns
// an error describing why the channel stopped.
func waitChannel(ctx context.Context, client *realtime.Client, terminal func(int) bool) error {
	stopped := make(chan realtime.Status, 1)
	cancel := client.WatchStatus(func(st realtime.Status) {
		if ended(st, terminal) {
			select {
			case stopped <- st:
			default:
			}
		}
	})
	defer cancel()

	if st := client.Status(); ended(st, terminal) {
		return closedError(st)
	}

	select {
	case <-ctx.Done():
		return nil
	case st := <-stopped:
		return closedError(st)
	}
}

func closedError(st realtime.Status) error {
	msg := fmt.Sprintf("%s channel closed", st.Channel)
	if st.LastCloseCode != 0 {
		msg += fmt.Sprintf(" (code %d", st.LastCloseCode)
		if reason := realtime.CloseReason(st.LastCloseCode); reason != "" {
			msg += ": " + reason
		}
		msg += ")"
	}
	if st.Exhausted {
		msg += fmt.Sprintf(", gave up after %d attempts", st.Attempt)
	}
	return errors.New(msg)
}

// printEvents registers a handler on router that prints every known event
// kind as one line on w.
func printEvents(router *events.Router, w io.Writer) {
	for _, kind := range []string{
		events.KindBookingCreated, events.KindBookingUpdated, events.KindBookingCancelled,
		events.KindUserCreated, events.KindUserUpdated, events.KindUserDeleted,
		events.KindMatchCreated, events.KindMatchUpdated, events.KindMatchCancelled, events.KindMatchDeleted,
		events.KindParticipantJoined, events.KindParticipantLeft, events.KindParticipantRemoved,
		events.KindChatNotification,
	} {
		router.Handle(kind, func(ev events.Event) {
			fmt.Fprintln(w, describeEvent(ev))
		})
	}
}

func describeEvent(ev events.Event) string {
	switch e := ev.(type) {
	case *events.BookingCreated:
		return fmt.Sprintf("booking #%d created: court %d, %s [%s]", e.Booking.ID, e.Booking.Court, e.Booking.StartTime.Format("Mon Jan 2 15:04"), e.Booking.Status)
	case *events.BookingUpdated:
		return fmt.Sprintf("booking #%d updated [%s]", e.Booking.ID, e.Booking.Status)
	case *events.BookingCancelled:
		return fmt.Sprintf("booking #%d cancelled", e.BookingID)
	case *events.UserCreated:
		return fmt.Sprintf("user %s created", e.User.Username)
	case *events.UserUpdated:
		state := "active"
		if !e.User.IsActive {
			state = "inactive"
		}
		return fmt.Sprintf("user %s updated (%s)", e.User.Username, state)
	case *events.UserDeleted:
		return fmt.Sprintf("user #%d deleted", e.UserID)
	case *events.MatchCreated:
		return fmt.Sprintf("match #%d created at %s", e.Match.ID, e.Match.Court)
	case *events.MatchUpdated:
		return fmt.Sprintf("match #%d updated [%s]", e.Match.ID, e.Match.Status)
	case *events.MatchCancelled:
		return fmt.Sprintf("match #%d cancelled", e.MatchID)
	case *events.MatchDeleted:
		return fmt.Sprintf("match #%d deleted", e.MatchID)
	case *events.ParticipantJoined:
		return fmt.Sprintf("%s joined match #%d (%d players)", e.User.Username, e.MatchID, len(e.Participants))
	case *events.ParticipantLeft:
		return fmt.Sprintf("%s left match #%d (%d players)", e.User.Username, e.MatchID, len(e.Participants))
	case *events.ParticipantRemoved:
		return fmt.Sprintf("%s was removed from match #%d", e.User.Username, e.MatchID)
	case *events.ChatNotification:
		return fmt.Sprintf("match #%d chat, %s: %s", e.MatchID, e.Username, e.Message)
	}
	return ev.Kind()
}

func metricsFlag() cli.Flag {
	return &cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address, e.g. :9090"}
}

func (a *app) metricsAddr(cmd *cli.Command) string {
	if v := cmd.String("metrics-addr"); v != "" {
		return v
	}
	return a.cfg.MetricsAddr
}

func (a *app) watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "print live updates from a push channel",
		ArgsUsage: "<bookings|users|matches>",
		Flags:     []cli.Flag{metricsFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ch, err := pushChannel(cmd.Args().First())
			if err != nil {
				return err
			}
			live, err := a.realtimeService(ctx, a.metricsAddr(cmd))
			if err != nil {
				return err
			}
			defer live.Shutdown()

			client, err := live.Channel(ch)
			if err != nil {
				return err
			}

			router := events.NewRouter(a.logger)
			printEvents(router, os.Stdout)

			b := binding.New(client, a.tokens, a.logger)
			if err := b.Activate(router); err != nil {
				if errors.Is(err, binding.ErrNoToken) {
					return errNotLoggedIn
				}
				return err
			}
			defer b.Deactivate()

			fmt.Fprintf(os.Stderr, "Watching %s, Ctrl-C to stop\n", ch.Name)
			return waitChannel(ctx, client, realtime.NormalClose)
		},
	}
}

func (a *app) chatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "join a match chat; each line of input is sent as a message",
		ArgsUsage: "<match id>",
		Flags:     []cli.Flag{metricsFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := parseMatchID(cmd.Args().First())
			if err != nil {
				return err
			}
			live, err := a.realtimeService(ctx, a.metricsAddr(cmd))
			if err != nil {
				return err
			}
			defer live.Shutdown()

			client, err := live.Channel(realtime.Chat(strconv.Itoa(id)))
			if err != nil {
				return err
			}

			router := events.NewRouter(a.logger)
			events.On(router, func(e *events.ChatMessage) {
				fmt.Printf("[%s] %s: %s\n", chatClock(e.CreatedAt), e.Username, e.Message)
			})
			events.On(router, func(e *events.Typing) {
				if e.IsTyping {
					fmt.Fprintf(os.Stderr, "%s is typing...\n", e.Username)
				}
			})
			events.On(router, func(e *events.Error) {
				fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
			})

			b := binding.New(client, a.tokens, a.logger)
			if err := b.Activate(router); err != nil {
				if errors.Is(err, binding.ErrNoToken) {
					return errNotLoggedIn
				}
				return err
			}
			defer b.Deactivate()

			go a.sendLines(client, os.Stdin)
			return waitChannel(ctx, client, realtime.ApplicationClose)
		},
	}
}

// sendLines sends each non-empty line of r as a chat message.
func (a *app) sendLines(client *realtime.Client, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := client.Send(map[string]string{"message": text}); err != nil {
			fmt.Fprintf(os.Stderr, "not sent: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("reading input", zap.Error(err))
	}
}

// chatClock shortens the chat server timestamp to HH:MM when it can.
func chatClock(createdAt string) string {
	if _, rest, ok := strings.Cut(createdAt, " "); ok && len(rest) >= 5 {
		return rest[:5]
	}
	return createdAt
}

// follow keeps the bookings and matches channels open so realtime_status has
// something to report while the MCP server runs.
func (a *app) follow(live *realtime.Service) {
	for _, ch := range []realtime.Channel{realtime.Bookings, realtime.Matches} {
		client, err := live.Channel(ch)
		if err != nil {
			a.logger.Warn("channel unavailable", zap.String("channel", ch.Name), zap.Error(err))
			continue
		}
		name := ch.Name
		b := binding.New(client, a.tokens, a.logger)
		err = b.Activate(realtime.Func(func(m realtime.Message) {
			a.logger.Debug("push received", zap.String("channel", name), zap.String("kind", m.Kind))
		}))
		if err != nil {
			a.logger.Info("live updates off", zap.String("channel", name), zap.Error(err))
		}
	}
}

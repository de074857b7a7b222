/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

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
	"time"

	"github.com/Seednode/spinnerly/client"
	"github.com/Seednode/spinnerly/spinner"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newLogger(cfg *Config) zerolog.Logger {
	level := zerolog.WarnLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func newCreateCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var (
		name      string
		names     []string
		materials []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and keep its creator token on this machine.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateClient(); err != nil {
				return err
			}

			tokens, err := client.OpenTokens(cfg.tokens)
			if err != nil {
				return err
			}
			defer tokens.Close()

			api, err := client.NewAPI(cfg.server, client.WithAPILogger(newLogger(cfg)))
			if err != nil {
				return err
			}

			resp, err := api.CreateRoom(cmd.Context(), spinner.CreateRoomRequest{
				RoomName:  name,
				Names:     names,
				Materials: materials,
			})
			if err != nil {
				return err
			}

			if err := tokens.Save(resp.RoomCode, resp.CreatorSessionID); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created room %s\n", color.Bold.Sprint(resp.RoomCode))
			fmt.Fprintf(out, "  share:  %s/room/%s\n", strings.TrimSuffix(cfg.server, "/"), resp.RoomCode)
			fmt.Fprintf(out, "  spin:   spinnerly join %s\n", resp.RoomCode)

			return nil
		},
	}

	clientFlags(cfg, cmd)

	fs := cmd.Flags()
	fs.StringVarP(&name, "name", "n", "", "name of the room")
	fs.StringSliceVar(&names, "names", nil, "comma-separated names to put on the wheel")
	fs.StringSliceVar(&materials, "materials", nil, "comma-separated materials to assign, in order")

	bindEnv(v, fs)

	return cmd
}

func newJoinCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join CODE",
		Short: "Follow a room, and spin its wheel if you created it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateClient(); err != nil {
				return err
			}
			return joinRoom(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	clientFlags(cfg, cmd)

	fs := cmd.Flags()
	fs.BoolVarP(&cfg.mute, "mute", "m", false, "do not print spin cues (env: SPINNERLY_MUTE)")
	fs.DurationVar(&cfg.duration, "duration", 5*time.Second, "length of the spin animation (env: SPINNERLY_DURATION)")

	bindEnv(v, fs)

	return cmd
}

func joinRoom(ctx context.Context, cfg *Config, roomCode string, in io.Reader, out io.Writer) error {
	code := spinner.NormalizeRoomCode(roomCode)
	if err := spinner.ValidateRoomCode(code); err != nil {
		return err
	}

	logger := newLogger(cfg)

	tokens, err := client.OpenTokens(cfg.tokens)
	if err != nil {
		return err
	}
	defer tokens.Close()

	api, err := client.NewAPI(cfg.server, client.WithTokens(tokens), client.WithAPILogger(logger))
	if err != nil {
		return err
	}

	channel, err := client.NewChannel(cfg.server, client.WithChannelTokens(tokens), client.WithChannelLogger(logger))
	if err != nil {
		return err
	}

	settings := spinner.DefaultSettings()
	settings.Sound = !cfg.mute
	settings.Duration = cfg.duration

	coord, err := spinner.New(code, spinner.Deps{
		Gateway: api,
		Channel: channel,
		Tokens:  tokens,
		View:    newTermView(out),
	}, spinner.WithSettings(settings), spinner.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(ctx) }()

	lines := readLines(ctx, in)

	fmt.Fprintln(out, color.Gray.Sprint("enter: spin, q: leave"))

	for {
		select {
		case err := <-runErr:
			if errors.Is(err, spinner.ErrNotFound) {
				if ferr := tokens.Forget(code); ferr != nil {
					logger.Warn().Err(ferr).Str("room", code).Msg("failed to forget creator token")
				}
			}
			return err

		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				cancel()
				<-coord.Done()
				return nil
			}

			// Errors are already shown through the view.
			_ = coord.RequestSpin(ctx)
		}
	}
}

// readLines sends each trimmed line of in until in runs dry or ctx ends.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines
}

func newHistoryCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history CODE",
		Short: "Show every spin of a room, newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateClient(); err != nil {
				return err
			}

			api, err := client.NewAPI(cfg.server, client.WithAPILogger(newLogger(cfg)))
			if err != nil {
				return err
			}

			page, err := api.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printHistory(cmd.OutOrStdout(), page)

			return nil
		},
	}

	clientFlags(cfg, cmd)
	bindEnv(v, cmd.Flags())

	return cmd
}

func printHistory(out io.Writer, page spinner.HistoryPage) {
	status := color.Yellow.Sprint("in progress")
	if page.Complete {
		status = color.Green.Sprint("complete")
	}

	fmt.Fprintf(out, "%s %s %s\n\n", color.Bold.Sprint(page.RoomName), color.Gray.Sprintf("(%s)", page.RoomCode), status)

	if len(page.History) == 0 {
		fmt.Fprintln(out, "No spins yet.")
		return
	}

	table := newTable(out, "#", "Name", "Material", "Time")
	for i, h := range page.History {
		table.Append([]string{
			strconv.Itoa(len(page.History) - i),
			h.SelectedName,
			h.AssignedMaterial,
			spunAt(h.SpunAt),
		})
	}
	table.Render()
}

func newRoomsCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms created from this machine.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := client.OpenTokens(cfg.tokens)
			if err != nil {
				return err
			}
			defer tokens.Close()

			codes, err := tokens.Rooms()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(codes) == 0 {
				fmt.Fprintln(out, "No rooms created here yet.")
				return nil
			}

			table := newTable(out, "Room", "Share")
			for _, code := range codes {
				table.Append([]string{code, strings.TrimSuffix(cfg.server, "/") + "/room/" + code})
			}
			table.Render()

			return nil
		},
	}

	clientFlags(cfg, cmd)
	bindEnv(v, cmd.Flags())

	return cmd
}

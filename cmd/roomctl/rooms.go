package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mossy-p/studyroom-signaling/internal/client"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print its code",
	Long: `Create a room on the signaling server. Requires a token, either --token or
one minted with --secret and --user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		api := &client.RoomsAPI{ServerURL: cfg.ServerURL, Token: cfg.Token}
		room, err := api.CreateRoom(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), room.Code)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <room-code>",
	Short: "Show who created a room and whether it is live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		api := &client.RoomsAPI{ServerURL: cfg.ServerURL, Token: cfg.Token}
		info, err := api.GetRoom(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendRows([]table.Row{
			{"Code", info.Code},
			{"Creator", orDash(info.CreatorID)},
			{"Created", createdAt(info.CreatedAt)},
			{"Live", info.Live},
			{"Participants", info.ParticipantCount},
			{"Host", orDash(info.HostUserID)},
		})
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:     "state <room-code>",
	Aliases: []string{"s"},
	Short:   "Print the current room snapshot without joining",
	Long: `Fetch the room snapshot from the polling endpoint and print participants,
notes and timer. Works for rooms that have no live participants.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		poller := &client.HTTPPoller{ServerURL: cfg.ServerURL, Token: cfg.Token}
		st, err := poller.Poll(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if st.RoomID == "" {
			st.RoomID = args[0]
		}
		renderParticipants(cmd.OutOrStdout(), st.RoomSnapshot)
		renderShared(cmd.OutOrStdout(), st.Notes, st.Timer, time.Now())
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <room-code>",
	Short: "Delete a room, disconnecting everyone in it",
	Long: `Delete a room. While the room is live only its host may delete it; an idle
room can be deleted by its creator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		api := &client.RoomsAPI{ServerURL: cfg.ServerURL, Token: cfg.Token}
		if err := api.DeleteRoom(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Room %s deleted\n", args[0])
		return nil
	},
}

func createdAt(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func init() {
	rootCmd.AddCommand(createCmd, infoCmd, stateCmd, deleteCmd)
}

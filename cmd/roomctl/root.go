package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/middleware"
)

var (
	flagServer string
	flagToken  string
	flagSecret string
	flagUser   string
	flagName   string
	flagSTUN   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomctl",
	Short: "Command-line participant for study rooms",
	Long: `roomctl joins a study room on a signaling server, prints what happens in it
and lets you chat, edit notes and drive the shared timer from the terminal.

It falls back to polling the room snapshot when the realtime connection
cannot be established.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancelRun()
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(runCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves client settings and mints a token from --secret when none is given.
func loadConfig() (*config.ClientConfig, error) {
	cfg := config.LoadClient(config.ClientOptions{
		ServerURL:  flagServer,
		Token:      flagToken,
		STUNServer: flagSTUN,
	})
	if cfg.Token == "" && flagSecret != "" {
		if flagUser == "" {
			return nil, fmt.Errorf("--user is required to mint a token")
		}
		token, err := middleware.SignToken(flagUser, flagName, flagSecret)
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
		cfg.Token = token
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Signaling server base URL (default $SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Bearer token (default $ROOM_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagSecret, "secret", "", "Mint a token locally with this JWT secret")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "User id")
	rootCmd.PersistentFlags().StringVarP(&flagName, "name", "n", "", "Display name")
	rootCmd.PersistentFlags().StringVarP(&flagSTUN, "stun", "s", "", "STUN server for peer connections")
}

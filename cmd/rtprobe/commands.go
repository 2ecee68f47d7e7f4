package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	baseURL  string
	origin   string
	timeout  time.Duration
	logLevel string
}

func buildRootCmd() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:          "rtprobe",
		Short:        "Probe a buykoins realtime gateway",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&gf.baseURL, "url", envOr("BKRT_PROBE_URL", "http://127.0.0.1:8080"),
		"Gateway base URL (http, https, ws or wss)")
	root.PersistentFlags().StringVar(&gf.origin, "origin", "http://localhost",
		"Origin header sent with the WebSocket handshake (empty to omit)")
	root.PersistentFlags().DurationVar(&gf.timeout, "timeout", 10*time.Second,
		"Overall deadline for each check")
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "warn",
		"Client log level (debug, info, warn, error)")

	root.AddCommand(buildProbeCmd(gf), buildListenCmd(gf), buildMintTokenCmd())
	return root
}

// buildProbeCmd creates the "probe" command that runs every namespace end to end.
func buildProbeCmd(gf *globalFlags) *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:     "probe",
		Aliases: []string{"smoke"},
		Short:   "Run support, notification and widget checks in parallel",
		Long: `Connect the channel clients to a running gateway and exercise each namespace.

Support needs a user and an admin token. Notifications need an admin token and,
to publish a test notification, the internal API key. Widget runs as a guest.
Checks whose credentials are missing are skipped.`,
		Example: `  # Widget only (guest)
  rtprobe probe

  # Everything against a dev gateway started with BKRT_DEV_TOKENS
  rtprobe probe --user-token tok-user --admin-token tok-admin --internal-key dev-key`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd.Context(), cmd.OutOrStdout(), gf, opts)
		},
	}

	cmd.Flags().StringVar(&opts.userToken, "user-token", os.Getenv("BKRT_PROBE_USER_TOKEN"), "Bearer token of a user")
	cmd.Flags().StringVar(&opts.adminToken, "admin-token", os.Getenv("BKRT_PROBE_ADMIN_TOKEN"), "Bearer token of an admin")
	cmd.Flags().StringVar(&opts.internalKey, "internal-key", os.Getenv("BKRT_INTERNAL_API_KEY"), "Key for POST /internal/notifications")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "probe-conversation", "Support conversation id")
	cmd.Flags().StringVar(&opts.text, "text", "rtprobe ping", "Support message body")
	cmd.Flags().StringVar(&opts.trigger, "trigger", v1.TriggerOnboarding, "Widget trigger to run")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Cancel the remaining checks after the first failure")
	return cmd
}

// buildListenCmd creates the "listen" command that prints pushes as they arrive.
func buildListenCmd(gf *globalFlags) *cobra.Command {
	var opts listenOptions

	cmd := &cobra.Command{
		Use:       "listen <namespace>",
		Short:     "Print server pushes for a namespace until interrupted",
		Args:      cobra.ExactArgs(1),
		ValidArgs: v1.Namespaces,
		Example: `  rtprobe listen notifications --token tok-admin
  rtprobe listen support --token tok-admin --room C1 --room C2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.namespace = args[0]
			return runListen(cmd.Context(), cmd.OutOrStdout(), gf, opts)
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "Bearer token (empty connects as a guest)")
	cmd.Flags().StringVar(&opts.guestID, "guest-id", "", "Resume an existing guest identity")
	cmd.Flags().StringSliceVar(&opts.rooms, "room", nil, "Conversation or widget session to join (repeatable)")
	return cmd
}

// buildMintTokenCmd creates the "mint-token" command for local development.
func buildMintTokenCmd() *cobra.Command {
	var opts mintOptions

	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Issue a PASETO v4 access token for local development",
		Example: `  # Create a key pair for the gateway
  rtprobe mint-token --generate-key

  # Issue an admin token with it
  rtprobe mint-token --secret-key $BKRT_TOKEN_SECRET_KEY_HEX --subject admin:1 --role admin`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMintToken(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.generateKey, "generate-key", false, "Print a new key pair and exit")
	cmd.Flags().StringVar(&opts.secretKeyHex, "secret-key", os.Getenv("BKRT_TOKEN_SECRET_KEY_HEX"), "Ed25519 secret key in hex")
	cmd.Flags().StringVar(&opts.issuer, "issuer", os.Getenv("BKRT_TOKEN_ISSUER"), "Token issuer")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "Identity id, e.g. user:42 or admin:1")
	cmd.Flags().StringVar(&opts.role, "role", v1.RoleUser, "Role claim (user or admin)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/harun/ranya-sessions/pkg/session"
	"github.com/spf13/cobra"
)

var (
	previewLimit int
	renameLabel  string
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Inspect and manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known session",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsPreviewCmd = &cobra.Command{
	Use:   "preview <key>",
	Short: "Show the most recent messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsPreview,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a session's metadata and full history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <key>",
	Short: "Set a session label",
	Long: `Set the label of an existing session. An empty --label is stored as an
empty label; omitting --label only refreshes the session's update time.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsRename,
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Clear a session's history and zero its message count",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsReset,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a session's history and metadata",
	Long:  `Delete a session's history and metadata. The main session cannot be deleted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsCompactCmd = &cobra.Command{
	Use:   "compact <key>",
	Short: "Compact a session's history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsCompact,
}

var sessionsAppendCmd = &cobra.Command{
	Use:   "append <key> [message-json]",
	Short: "Append one JSON message to a session",
	Long: `Append one JSON message to a session, creating it if needed.
The message is read from the second argument, or from stdin when it is
omitted or "-".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSessionsAppend,
}

var sessionsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair cached message counts and index orphaned logs",
	Args:  cobra.NoArgs,
	RunE:  runSessionsReconcile,
}

func init() {
	sessionsPreviewCmd.Flags().IntVar(&previewLimit, "limit", session.DefaultPreviewLimit, "number of messages to show")
	sessionsRenameCmd.Flags().StringVar(&renameLabel, "label", "", "new label")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsPreviewCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsCompactCmd)
	sessionsCmd.AddCommand(sessionsAppendCmd)
	sessionsCmd.AddCommand(sessionsReconcileCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		return printJSON(cmd, map[string]interface{}{
			"sessions": a.service.List(cmd.Context()),
		})
	})
}

func runSessionsPreview(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		result, err := a.service.Preview(cmd.Context(), args[0], previewLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		result, err := a.service.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	var label *string
	if cmd.Flags().Changed("label") {
		label = &renameLabel
	}

	return withApp(cmd, func(a *app) error {
		result, err := a.service.Patch(cmd.Context(), args[0], label)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runSessionsReset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		ack, err := a.service.Reset(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, ack)
	})
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		ack, err := a.service.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, ack)
	})
}

func runSessionsCompact(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		ack, err := a.service.Compact(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, ack)
	})
}

func runSessionsAppend(cmd *cobra.Command, args []string) error {
	message, err := readMessage(cmd, args[1:])
	if err != nil {
		return err
	}

	return withApp(cmd, func(a *app) error {
		result, err := a.service.Append(cmd.Context(), args[0], message)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runSessionsReconcile(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		fixed, err := a.service.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"fixed": fixed})
	})
}

// readMessage returns the message argument, or stdin when it is absent or "-".
func readMessage(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	var data []byte
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read message from stdin: %w", err)
		}
		data = raw
	} else {
		data = []byte(args[0])
	}

	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: message is empty", session.ErrInvalidParams)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: message is not valid JSON", session.ErrInvalidParams)
	}
	return json.RawMessage(data), nil
}

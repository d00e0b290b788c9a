package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forest6511/sessionvault/pkg/session"
	"github.com/forest6511/sessionvault/pkg/vault"
)

// Command flags
var (
	saveFile   string
	loadOutput string
)

func init() {
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(backendsCmd)

	saveCmd.Flags().StringVarP(&saveFile, "file", "f", "", "read the payload from a file instead of stdin")
	loadCmd.Flags().StringVarP(&loadOutput, "output", "o", "", "write the payload to a file (mode 0600) instead of stdout")
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store a session payload, replacing any stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(cmd, saveFile)
		if err != nil {
			return err
		}
		return withSession(cmd, func(a *app) error {
			if err := a.store.Save(payload); err != nil {
				var serr *session.SaveError
				if errors.As(err, &serr) {
					return fmt.Errorf("%w (stored session is incomplete and will read as absent; run 'sessionvault clear')", err)
				}
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Session saved to %s\n", a.store.Key())
			return nil
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Print the stored session payload",
	Long:  "Print the stored session payload. Exits with status 1 and no output when no session is stored.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			payload, ok, err := a.store.Load()
			if err != nil {
				return err
			}
			if !ok {
				return errNoSession
			}
			if loadOutput != "" {
				return writeFile(loadOutput, payload)
			}
			_, err = cmd.OutOrStdout().Write(payload)
			return err
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			a.store.Clear()
			fmt.Fprintf(cmd.ErrOrStderr(), "Session cleared from %s\n", a.store.Key())
			return nil
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show how the stored session is laid out across vault entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			layout, err := a.store.Inspect()
			if err != nil {
				return err
			}
			printLayout(cmd, layout)
			return nil
		})
	},
}

func printLayout(cmd *cobra.Command, layout session.Layout) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Key:\t%s\n", layout.Key)
	fmt.Fprintf(w, "State:\t%s\n", layout.State)
	switch {
	case !layout.CountPresent:
		fmt.Fprintf(w, "Count:\t(missing)\n")
	case layout.Count == 0:
		fmt.Fprintf(w, "Count:\t%q (invalid)\n", layout.CountText)
	default:
		fmt.Fprintf(w, "Count:\t%d\n", layout.Count)
		fmt.Fprintf(w, "Encoded length:\t%d\n", layout.EncodedLen)
	}
	w.Flush()

	if len(layout.Chunks) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENTRY\tLENGTH\tSTATUS")
		for _, c := range layout.Chunks {
			status, length := "ok", fmt.Sprint(c.Length)
			if !c.Present {
				status, length = "missing", "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", layout.Key.ChunkName(c.Index), length, status)
		}
		w.Flush()
	}

	if len(layout.Stale) > 0 {
		names := make([]string, len(layout.Stale))
		for i, idx := range layout.Stale {
			names[i] = layout.Key.ChunkName(idx)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nStale entries: %s\n", strings.Join(names, ", "))
	}
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the keyring backends available on this platform",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range vault.AvailableKeyringBackends() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

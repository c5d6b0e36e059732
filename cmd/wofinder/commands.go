package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HerbHall/wofinder/internal/discovery"
	"github.com/HerbHall/wofinder/internal/version"
	"github.com/HerbHall/wofinder/pkg/models"
)

func newScanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery cycle and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.service.RunDiscoveryCycle(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		},
	}
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			servers := a.service.Servers()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), servers)
			}
			return printTable(cmd.OutOrStdout(), servers)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newAddCmd(flags *globalFlags) *cobra.Command {
	var in discovery.ManualServerInput
	cmd := &cobra.Command{
		Use:   "add <ip>",
		Short: "Add a server manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			in.IP = args[0]
			return printResult(cmd.OutOrStdout(), a.service.AddManualServer(in))
		},
	}
	cmd.Flags().StringVar(&in.Hostname, "hostname", "", "display name (defaults to the IP)")
	cmd.Flags().IntSliceVar(&in.Ports, "ports", nil, "port set (defaults to 3040,3041,3042,3022)")
	cmd.Flags().StringVar(&in.Type, "type", "", "classification shown for the server")
	return cmd
}

func newRemoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a server by identity key (ip:ports)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return printResult(cmd.OutOrStdout(), a.service.RemoveManualServer(args[0]))
		},
	}
}

func newClearOfflineCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-offline",
		Short: "Forget every offline server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return printResult(cmd.OutOrStdout(), a.service.ClearOfflineServers())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}

func printResult(w io.Writer, res discovery.Result) error {
	if err := printJSON(w, res); err != nil {
		return err
	}
	if !res.Success {
		return res.Err()
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, servers []models.ServerRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOSTNAME\tTYPE\tSTATUS\tLAST SEEN")
	for _, s := range servers {
		lastSeen := "-"
		if !s.LastSeenAt.IsZero() {
			lastSeen = s.LastSeenAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Key(), s.Hostname, s.Type, s.Status, lastSeen)
	}
	return tw.Flush()
}

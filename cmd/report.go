package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Nathene/vulnmatch/cmd/common"
	"github.com/Nathene/vulnmatch/pkg/database"
	"github.com/Nathene/vulnmatch/pkg/feed"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var reportLimit int

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print stored vulnerabilities, package updates or hosts",
}

var reportVulnsCmd = &cobra.Command{
	Use:   "vulns [hostname]",
	Short: "List vulnerable packages of one host or of every host",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Use()
		if err != nil {
			return err
		}
		defer db.Close()

		var vulns []common.Vulnerability
		if len(args) == 1 {
			vulns, err = db.VulnerabilitiesByHost(cmd.Context(), args[0])
		} else {
			vulns, err = db.Vulnerabilities(cmd.Context())
		}
		if err != nil {
			return err
		}
		return printVulnerabilities(cmd.OutOrStdout(), vulns)
	},
}

var reportUpdatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "List package version changes, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Use()
		if err != nil {
			return err
		}
		defer db.Close()

		updates, err := db.PackageUpdates(cmd.Context())
		if err != nil {
			return err
		}
		if reportLimit > 0 && len(updates) > reportLimit {
			updates = updates[:reportLimit]
		}
		return printPackageUpdates(cmd.OutOrStdout(), updates)
	},
}

var reportHostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List hosts that submitted an inventory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Use()
		if err != nil {
			return err
		}
		defer db.Close()

		devices, err := db.Devices(cmd.Context())
		if err != nil {
			return err
		}
		return printDevices(cmd.OutOrStdout(), devices)
	},
}

func init() {
	reportUpdatesCmd.Flags().IntVarP(&reportLimit, "limit", "n", 0, "show at most n updates")

	reportCmd.AddCommand(reportVulnsCmd)
	reportCmd.AddCommand(reportUpdatesCmd)
	reportCmd.AddCommand(reportHostsCmd)
}

func printVulnerabilities(out io.Writer, vulns []common.Vulnerability) error {
	collected := common.NewVulnerabilities()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSOFTWARE\tVERSION\tCVE\tSEVERITY")
	for _, v := range vulns {
		collected.Add(v)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.Hostname, v.Software, v.InstalledVersion, v.CVEID, v.Severity)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	bySeverity := collected.BySeverity()
	fmt.Fprintln(out, "\nVulnerability Summary:")
	for _, sev := range feed.Severities {
		fmt.Fprintf(out, "  %s: %d\n", sev, len(bySeverity[string(sev)]))
	}
	fmt.Fprintf(out, "  Total: %d\n", len(collected.Get()))
	return nil
}

func printPackageUpdates(out io.Writer, updates []common.PackageUpdate) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSOFTWARE\tOLD\tNEW\tSTATUS\tUPDATED")
	for _, u := range updates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			u.Hostname, u.Software, u.OldVersion, u.NewVersion, u.Status, humanize.Time(u.UpdatedAt))
	}
	return w.Flush()
}

func printDevices(out io.Writer, devices []common.Device) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOST\tIP\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, d.Hostname, d.IP, humanize.Time(d.LastSeen))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s hosts\n", humanize.Comma(int64(len(devices))))
	return nil
}

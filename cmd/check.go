package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/Nathene/vulnmatch/pkg/inventory"
	"github.com/spf13/cobra"
)

// check matches a single package against the local feeds without touching the database.
var checkCmd = &cobra.Command{
	Use:   "check <name> <version>",
	Short: "Check one package against the local CVE feeds",
	Args:  cobra.ExactArgs(2),
	RunE:  check,
}

func check(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	s, err := loadScanner(cmd.Context(), nil, logger)
	if err != nil {
		return err
	}

	pkg := inventory.Package{Name: args[0], Version: args[1]}
	found := s.Check(pkg)

	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintf(out, "No known vulnerabilities for %s %s\n", pkg.Name, pkg.Version)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CVE\tSEVERITY\tDESCRIPTION")
	for _, vp := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\n", vp.CVEID, vp.Severity, truncate(vp.Description, 80))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s %s: %d vulnerabilities\n", pkg.Name, pkg.Version, len(found))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

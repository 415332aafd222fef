package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

func newProfilesCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "profiles [NAME]",
		Short: "List scoring profiles or print one as YAML",
		Long: `Without arguments, lists the builtin profiles. With a name, prints the
fully resolved profile as YAML. Overrides from the configuration file apply
when NAME is the configured profile.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listProfiles(cmd)
			}
			p, err := a.resolveProfile(args[0], strict)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(p); err != nil {
				return fmt.Errorf("failed to encode profile: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&strict, "strict-nuclear", false, "Show the profile with strict-nuclear applied")
	return cmd
}

func listProfiles(cmd *cobra.Command) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCORING\tACTIVATION\tDDR")
	for _, name := range profile.Names() {
		p, err := profile.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", p.Name, p.ScoringMode.Label(), p.ActivationMode.Label(), p.DDREnabled)
	}
	return tw.Flush()
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var patientsJSON bool

// patientsCmd represents the patients command
var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "List patients in the knowledge graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(context.Background())
		defer cancel()

		graph, err := connectGraph(ctx, cfg)
		if err != nil {
			return err
		}
		defer graph.Close(context.Background())

		patients, err := graph.ListPatients(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if patientsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(patients)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME")
		for _, p := range patients {
			fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Name)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(patientsCmd)
	patientsCmd.Flags().BoolVar(&patientsJSON, "json", false, "output JSON")
}

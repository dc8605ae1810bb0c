package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openvlab/openvlab/pkg/mgmt"
)

type statusReport struct {
	Hosts          []mgmt.Host          `json:"hosts"`
	StorageDomains []mgmt.StorageDomain `json:"storage_domains"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show host and storage domain states",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			var report statusReport
			report.Hosts, err = cc.api.ListHosts(cmd.Context())
			if err != nil {
				return err
			}
			dcs, err := cc.api.ListDataCenters(cmd.Context())
			if err != nil {
				return err
			}
			for _, dc := range dcs {
				sds, err := cc.api.ListStorageDomains(cmd.Context(), dc.ID)
				if err != nil {
					return err
				}
				report.StorageDomains = append(report.StorageDomains, sds...)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tSTATE")
			for _, h := range report.Hosts {
				fmt.Fprintf(w, "%s\t%s\n", h.Name, h.State)
			}
			fmt.Fprintln(w, "\nSTORAGE DOMAIN\tMASTER\tSTATE")
			for _, sd := range report.StorageDomains {
				fmt.Fprintf(w, "%s\t%t\t%s\n", sd.Name, sd.Master, sd.State)
			}
			return w.Flush()
		},
	}

	return cmd
}

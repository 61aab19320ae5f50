package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voxelforge/fabric/pkg/client"
	"github.com/voxelforge/fabric/pkg/types"
)

var apiAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "127.0.0.1:8080", "controller API address")

	requestCmd.AddCommand(requestCreateCmd)
	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestGetCmd)
	requestCmd.AddCommand(requestCancelCmd)

	rootCmd.AddCommand(stockCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(productsCmd)
}

func apiClient() *client.Client {
	return client.New(apiAddr)
}

func tabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Show current stock",
	RunE: func(cmd *cobra.Command, args []string) error {
		stock, err := apiClient().Stock()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(stock))
		for k := range stock {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := tabWriter()
		fmt.Fprintln(w, "ITEM\tCOUNT")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%d\n", k, stock[k])
		}
		return w.Flush()
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List known agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := apiClient().Agents()
		if err != nil {
			return err
		}
		w := tabWriter()
		fmt.Fprintln(w, "ID\tLABEL\tKIND\tSTATUS\tLAST SEEN\tJOB")
		for _, a := range agents {
			job := "-"
			if a.CurrentJob > 0 {
				job = fmt.Sprintf("%d", a.CurrentJob)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ID, a.Label, a.Kind, a.Status, a.LastSeen.Format("15:04:05"), job)
		}
		return w.Flush()
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List active crafting jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := apiClient().Jobs()
		if err != nil {
			return err
		}
		w := tabWriter()
		fmt.Fprintln(w, "ID\tOUTPUT\tQTY\tSTATUS\tAGENT")
		for _, j := range jobs {
			agent := j.AssignedTo
			if agent == "" {
				agent = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
				j.ID, j.Output.String(), j.Qty, j.Status, agent)
		}
		return w.Flush()
	},
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage production requests",
}

var requestDeliverTo string

func init() {
	requestCreateCmd.Flags().StringVar(&requestDeliverTo, "deliver-to", "", "container to deliver finished goods to")
}

var requestCreateCmd = &cobra.Command{
	Use:   "create <item> <qty>",
	Short: "Request production of an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var qty uint
		if _, err := fmt.Sscanf(args[1], "%d", &qty); err != nil || qty == 0 {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		req, err := apiClient().CreateRequest(args[0], qty, requestDeliverTo)
		if err != nil {
			return err
		}
		fmt.Printf("request %s: %d x %s (%s)\n", req.ID, req.Qty, req.Item.String(), req.Status)
		return nil
	},
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := apiClient().ListRequests()
		if err != nil {
			return err
		}
		sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })

		w := tabWriter()
		fmt.Fprintln(w, "ID\tITEM\tQTY\tPRODUCED\tDELIVERED\tSTATUS")
		for _, r := range reqs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				r.ID, r.Item.String(), r.Qty, r.Produced, r.Delivered, r.Status)
		}
		return w.Flush()
	},
}

var requestGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := apiClient().GetRequest(args[0])
		if err != nil {
			return err
		}
		printRequest(req)
		return nil
	},
}

var requestCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().CancelRequest(args[0]); err != nil {
			return err
		}
		fmt.Printf("request %s cancelled\n", args[0])
		return nil
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the shop catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := apiClient().Products()
		if err != nil {
			return err
		}
		w := tabWriter()
		fmt.Fprintln(w, "NAME\tITEM\tPRICE")
		for _, p := range products {
			fmt.Fprintf(w, "%s\t%s\t%.2f\n", p.Name, p.Item.String(), p.Price)
		}
		return w.Flush()
	},
}

func printRequest(req *types.Request) {
	fmt.Printf("ID:         %s\n", req.ID)
	fmt.Printf("Item:       %s\n", req.Item.String())
	fmt.Printf("Qty:        %d\n", req.Qty)
	fmt.Printf("Status:     %s\n", req.Status)
	fmt.Printf("Produced:   %d\n", req.Produced)
	fmt.Printf("Delivered:  %d\n", req.Delivered)
	if req.DeliverTo != "" {
		fmt.Printf("DeliverTo:  %s\n", req.DeliverTo)
	}
	if req.Reason != "" {
		fmt.Printf("Reason:     %s\n", req.Reason)
	}
	if len(req.JobIDs) > 0 {
		fmt.Printf("Jobs:       %v\n", req.JobIDs)
	}
	fmt.Printf("Created:    %s\n", req.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:    %s\n", req.UpdatedAt.Format("2006-01-02 15:04:05"))
}

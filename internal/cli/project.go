package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewProjectCmd creates the 'project' command group.
func NewProjectCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	cmd.AddCommand(
		newProjectCreateCmd(a),
		newProjectListCmd(a),
		newProjectInfoCmd(a),
		newProjectDeleteCmd(a),
		newProjectSetDeclCmd(a),
		newProjectSetKeyCmd(a),
		newProjectRefreshCmd(a),
	)
	return cmd
}

func newProjectCreateCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			p, err := kernel.CreateProject(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created project %s (id %d)\n", p.Name, p.ID)
			return nil
		},
	}
}

func newProjectListCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			projects, err := kernel.ListProjects()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTITLE\tDESCRIPTION")
			for _, p := range projects {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Name, p.Title, p.Description)
			}
			return w.Flush()
		},
	}
}

func newProjectInfoCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a project and its jobsets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			info, err := kernel.GetProjectInfo(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "project: %s\n", info.Project.Name)
			if info.Project.Title != "" {
				fmt.Fprintf(out, "title: %s\n", info.Project.Title)
			}
			if info.Project.Homepage != "" {
				fmt.Fprintf(out, "homepage: %s\n", info.Project.Homepage)
			}
			fmt.Fprintf(out, "jobsets:\n")
			for _, js := range info.Jobsets {
				fmt.Fprintf(out, "  %s -> %s\n", js.Name, js.FlakeRef)
			}
			return nil
		},
	}
}

func newProjectDeleteCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a project and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			if err := kernel.DeleteProject(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted project %s\n", args[0])
			return nil
		},
	}
}

func newProjectSetDeclCmd(a *App) *cobra.Command {
	var declFile string

	cmd := &cobra.Command{
		Use:   "set-decl <name>",
		Short: "Replace a project's declaration",
		Long: `Replace a project's declaration from a JSON file (or stdin with
--file -). The declaration takes effect on the next refresh.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if declFile == "-" {
				data, err = readAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(declFile)
			}
			if err != nil {
				return err
			}

			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			return kernel.SetDecl(args[0], string(data))
		},
	}

	cmd.Flags().StringVarP(&declFile, "file", "f", "-", "Declaration file (- for stdin)")
	return cmd
}

func newProjectSetKeyCmd(a *App) *cobra.Command {
	var keyFile string

	cmd := &cobra.Command{
		Use:   "set-key <name>",
		Short: "Replace a project's signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(keyFile)
			if err != nil {
				return err
			}

			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			return kernel.SetPrivateKey(args[0], string(data))
		},
	}

	cmd.Flags().StringVarP(&keyFile, "file", "f", "", "Key file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProjectRefreshCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <name>",
		Short: "Re-read a project's declaration and reconcile its jobsets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			info, err := kernel.RefreshProject(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s: %d jobset(s)\n",
				info.Project.Name, len(info.Jobsets))
			return nil
		},
	}
}

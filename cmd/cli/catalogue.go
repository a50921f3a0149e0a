package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/gcs"
	"github.com/dvloznov/grocery-carbon/internal/mcc"
)

func (c *cli) catalogueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogue",
		Short: "Manage emission factor catalogues",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Embed the configured datasets and store their vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := newTable(cmd.OutOrStdout())
			for _, source := range c.sources() {
				cat, err := c.app.Catalogue(ctx, source)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d entries\tper %s\t%s\tdim %d\n",
					cat.Name(), cat.Len(), cat.Unit(), cat.Model(), cat.Dimension())
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <items|categories> <dest>",
		Short: "Write a configured dataset as YAML to a file, gs:// URI or - for stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, err := c.source(args[0])
			if err != nil {
				return err
			}
			ds, err := c.app.Dataset(ctx, source)
			if err != nil {
				return err
			}
			data, err := ds.Marshal()
			if err != nil {
				return err
			}

			dest := args[1]
			switch {
			case dest == "-":
				_, err = cmd.OutOrStdout().Write(data)
				return err
			case gcs.IsURI(dest):
				storage, err := c.app.Storage(ctx)
				if err != nil {
					return err
				}
				if err := storage.Upload(ctx, dest, data, "application/yaml"); err != nil {
					return err
				}
			default:
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", dest, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s (%d entries) to %s\n", ds.Name, len(ds.Entries), dest)
			return nil
		},
	})
	return cmd
}

func (c *cli) matchCmd() *cobra.Command {
	var dataset string
	cmd := &cobra.Command{
		Use:   "match <text>",
		Short: "Show the nearest catalogue entries for a receipt line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sources := c.sources()
			if dataset != "" {
				s, err := c.source(dataset)
				if err != nil {
					return err
				}
				sources = []string{s}
			}

			m, err := c.app.Matcher(ctx)
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			for _, source := range sources {
				cat, err := c.app.Catalogue(ctx, source)
				if err != nil {
					return err
				}
				entry, score, err := m.Match(ctx, cat, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%g per %s\tscore %.4f\n", cat.Name(), entry.Name, entry.Factor, cat.Unit(), score)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "Only match against items or categories")
	return cmd
}

func mccCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "mcc [code]",
		Short:       "Show the emission factor of a merchant category code, or all of them",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{offline: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := mcc.Codes()
			if len(args) == 1 {
				code, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("mcc %q: %w", args[0], domain.ErrInvalidInput)
				}
				codes = []int{code}
			}

			w := newTable(cmd.OutOrStdout())
			for _, code := range codes {
				f, err := mcc.Factor(code)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%g kg CO2e per unit spent\n", code, f)
			}
			return w.Flush()
		},
	}
}

// sources returns the configured item and category dataset sources.
func (c *cli) sources() []string {
	return []string{c.app.Config.Catalogue.Items, c.app.Config.Catalogue.Categories}
}

func (c *cli) source(name string) (string, error) {
	switch name {
	case catalogue.Items:
		return c.app.Config.Catalogue.Items, nil
	case catalogue.Categories:
		return c.app.Config.Catalogue.Categories, nil
	}
	return "", fmt.Errorf("unknown dataset %q, want %s or %s: %w",
		name, catalogue.Items, catalogue.Categories, domain.ErrInvalidInput)
}

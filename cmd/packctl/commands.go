package main

import (
	"encoding/json"
	"fmt"
	"os"

	"order_packer/internal/config"
	"order_packer/internal/document"
	"order_packer/internal/services"
	"order_packer/internal/sku"
	"order_packer/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
)

func newComposer(cfg *config.Config) (*document.Composer, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		ServiceName: "packctl",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      "console",
		Output:      os.Stderr,
	})
	return document.NewComposer(document.NewPDFRenderer(), cfg.Layout, log, nil), nil
}

func sliceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slice",
		Short: "Build the label/invoice document of one source page",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			page, _ := cmd.Flags().GetInt("page")
			out, _ := cmd.Flags().GetString("out")
			invoices, _ := cmd.Flags().GetInt("invoices")

			composer, err := newComposer(config.Load())
			if err != nil {
				return fmt.Errorf("invalid layout: %w", err)
			}
			req := document.BuildRequest{
				SourcePath:    source,
				PageIndex:     page - 1,
				LabelCopies:   1,
				InvoiceCopies: invoices,
				OutputPath:    out,
			}
			if err := composer.BuildOrderDocument(cmd.Context(), req); err != nil {
				return fmt.Errorf("failed to slice page %d: %w", page, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s (1 label, %d invoice)\n", okMark, out, invoices)
			return nil
		},
	}
	cmd.Flags().String("source", "", "source PDF")
	cmd.Flags().Int("page", 1, "1-based page number")
	cmd.Flags().String("out", "", "output PDF")
	cmd.Flags().Int("invoices", 2, "invoice copies")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge [output] [inputs...]",
		Short: "Concatenate documents, skipping unreadable inputs",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			composer, err := newComposer(config.Load())
			if err != nil {
				return fmt.Errorf("invalid layout: %w", err)
			}
			report, err := composer.Merge(cmd.Context(), args[1:], args[0])
			if report != nil {
				for _, w := range report.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", warnMark, w)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Merged %d of %d documents into %s\n", okMark, len(report.Merged), len(args)-1, args[0])
			return nil
		},
	}
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [source]",
		Short: "Print the orders recognized on each page of a source PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := document.NewPDFRenderer().Open(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer src.Close()

			var orders []*services.ParsedOrder
			for i := 0; i < src.PageCount(); i++ {
				text, err := src.PageText(i)
				if err != nil {
					return fmt.Errorf("failed to read page %d: %w", i+1, err)
				}
				parsed, ok := services.ParseOrderPage(text)
				if !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s page %d: no order found\n", warnMark, i+1)
					continue
				}
				orders = append(orders, parsed)
			}
			return writeJSON(cmd, orders)
		},
	}
}

func skuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sku [code]",
		Short: "Show how a SKU is classified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			registry := sku.NewRegistry(sku.FileLoader{
				ClassificationPath: cfg.SKUMasterPath,
				ExemptionPath:      cfg.NoScanPath,
				PrintCountPath:     cfg.PrintRulesPath,
			})
			if err := registry.Load(); err != nil {
				return err
			}
			return writeJSON(cmd, registry.Resolve(args[0]))
		},
	}
}

func layoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the layout pages are sliced with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			composer, err := newComposer(config.Load())
			if err != nil {
				return fmt.Errorf("invalid layout: %w", err)
			}
			return writeJSON(cmd, composer.Layout())
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/engine"
	"github.com/wangdangel/augmentorium/internal/query"
	"github.com/wangdangel/augmentorium/internal/vectorstore"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "augmentorium",
		Short: "Code-aware RAG indexer for local source trees",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	root.AddCommand(serveCmd(), projectsCmd(), reindexCmd(), queryCmd(), statusCmd(), graphCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEngine() (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch and index the configured projects until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			log.Printf("Indexing %d project(s); press Ctrl-C to stop", len(eng.ListProjects()))
			<-sig
			log.Printf("Shutting down")
			return nil
		},
	}
}

func projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage the project registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			return printJSON(eng.ListProjects())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <path>",
		Short: "Register a project and index it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := eng.AddProject(args[0], args[1]); err != nil {
				return err
			}
			return eng.WaitForQuiescence(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister a project and destroy its index data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			return eng.RemoveProject(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reinit <name>",
		Short: "Erase a project's index data and rebuild from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := eng.ReinitializeProject(args[0]); err != nil {
				return err
			}
			return eng.WaitForQuiescence(cmd.Context(), args[0])
		},
	})

	return cmd
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <project>",
		Short: "Enqueue upserts for every non-ignored file in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := eng.TriggerReindex(args[0]); err != nil {
				return err
			}
			return eng.WaitForQuiescence(cmd.Context(), args[0])
		},
	}
}

func queryCmd() *cobra.Command {
	var (
		k            int
		minScore     float64
		graphContext bool
		language     string
		kind         string
	)
	cmd := &cobra.Command{
		Use:   "query <project> <text>",
		Short: "Run a semantic query against a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			opts := query.Options{
				K:                   k,
				MinScore:            minScore,
				IncludeGraphContext: graphContext,
			}
			if language != "" || kind != "" {
				opts.Filter = &vectorstore.Filter{Language: language, Kind: kind}
			}

			result, err := eng.Query(context.Background(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 10, "number of results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum similarity score")
	cmd.Flags().BoolVar(&graphContext, "graph", false, "attach 1-hop graph neighbors")
	cmd.Flags().StringVar(&language, "language", "", "filter by language")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by chunk kind")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [project]",
		Short: "Show indexer status counters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			status, err := eng.IndexerStatus(name)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func graphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect a project's code-relationship graph",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "nodes <project> <substring>",
		Short: "Search graph nodes by name or path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			nodes, err := eng.GraphSearchNodes(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(nodes)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "edges <project> <substring>",
		Short: "Search graph edges by endpoint name or relation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			edges, err := eng.GraphSearchEdges(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(edges)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "neighbors <project> <node-id>",
		Short: "List a node's 1-hop neighbors",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			neighbors, err := eng.GraphNeighbors(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(neighbors)
		},
	})

	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"embed-service/internal/client"
)

const defaultURL = "http://localhost:8001"

type globalFlags struct {
	url     string
	apiKey  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "embedctl",
		Short: "Talk to an embedding service",
		Long: `embedctl sends requests to a running embedding service and prints the
JSON responses.

Examples:
  embedctl health
  embedctl info
  embedctl embed "first text" "second text"
  embedctl embed --file texts.txt --openai`,
		SilenceUsage: true,
	}

	url := os.Getenv("EMBED_URL")
	if url == "" {
		url = defaultURL
	}
	root.PersistentFlags().StringVar(&g.url, "url", url, "Service base URL (env EMBED_URL)")
	root.PersistentFlags().StringVar(&g.apiKey, "api-key", "", "Bearer token for an auth proxy in front of the service")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 2*time.Minute, "Request timeout")

	root.AddCommand(newEmbedCmd(g), newHealthCmd(g), newInfoCmd(g))
	return root
}

func (g *globalFlags) client() *client.Client {
	if g.apiKey != "" {
		return client.New(g.url, client.WithAPIKey(g.apiKey))
	}
	return client.New(g.url)
}

func (g *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func newEmbedCmd(g *globalFlags) *cobra.Command {
	var (
		file      string
		normalize bool
		useOpenAI bool
		model     string
	)
	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: "Embed texts given as arguments or one per line in a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			texts := args
			if file != "" {
				lines, err := readLines(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				texts = append(texts, lines...)
			}
			if len(texts) == 0 {
				return fmt.Errorf("no texts given")
			}

			ctx, cancel := g.context(cmd)
			defer cancel()
			c := g.client()

			if useOpenAI {
				vecs, err := c.OpenAIEmbed(ctx, model, texts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), vecs)
			}

			var flag *bool
			if cmd.Flags().Changed("normalize") {
				flag = &normalize
			}
			resp, err := c.Embed(ctx, texts, flag)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read texts from a file, one per line (- for stdin)")
	cmd.Flags().BoolVar(&normalize, "normalize", true, "Request L2 normalization")
	cmd.Flags().BoolVar(&useOpenAI, "openai", false, "Use the OpenAI-compatible /v1/embeddings endpoint")
	cmd.Flags().StringVar(&model, "model", "default", "Model name sent with --openai")
	return cmd
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			h, err := g.client().Health(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show model and limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			info, err := g.client().Info(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

// readLines returns the non-blank lines of path, or of stdin for "-".
func readLines(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

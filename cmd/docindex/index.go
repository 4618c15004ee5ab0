package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	buildFile  string
	buildName  string
	queryK     int
	withScores bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the index for a text file",
	Long:  "Chunk and embed a text file and persist its index under the document's content-derived id.",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

var queryCmd = &cobra.Command{
	Use:   "query <document-id> <query>",
	Short: "Retrieve the chunks of a document closest to a query",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document's index",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Sync the document catalog with the index directory",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func init() {
	buildCmd.Flags().StringVarP(&buildFile, "file", "f", "", "Text file to index, - for stdin")
	buildCmd.Flags().StringVarP(&buildName, "name", "n", "", "Display name recorded with the index")
	_ = buildCmd.MarkFlagRequired("file")

	queryCmd.Flags().IntVarP(&queryK, "top-k", "k", 0, "Number of chunks to return (0 uses search.top_k)")
	queryCmd.Flags().BoolVar(&withScores, "scores", false, "Print chunk ids and distances")

	rootCmd.AddCommand(buildCmd, queryCmd, listCmd, deleteCmd, reconcileCmd)
}

// readText 读取文件内容，"-" 表示标准输入
func readText(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func sourceName(path, name string) string {
	if name != "" || path == "-" {
		return name
	}
	return filepath.Base(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runBuild(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, buildFile)
	if err != nil {
		return err
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.builder.Build(cmd.Context(), text, sourceName(buildFile, buildName))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !withScores {
		texts, err := a.retriever.Retrieve(cmd.Context(), args[0], args[1], queryK)
		if err != nil {
			return err
		}
		for i, t := range texts {
			fmt.Fprintf(out, "[%d] %s\n", i+1, t)
		}
		return nil
	}

	hits, err := a.retriever.RetrieveWithScores(cmd.Context(), args[0], args[1], queryK)
	if err != nil {
		return err
	}
	return printJSON(out, hits)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.documents.List(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT ID\tCHUNKS\tSOURCE")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", d.DocumentID, d.ChunkCount, d.SourceName)
	}
	return tw.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	existed, err := a.documents.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !existed {
		fmt.Fprintf(cmd.OutOrStdout(), "document %s not found\n", args[0])
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	added, removed, err := a.documents.Reconcile(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "catalog reconciled: %d added, %d removed\n", added, removed)
	return nil
}

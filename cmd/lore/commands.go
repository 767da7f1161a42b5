package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattsre/lore/internal/config"
	"github.com/mattsre/lore/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the knowledge base a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		conversationID, _ := cmd.Flags().GetString("conversation")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ask", map[string]string{
			"conversation_id": conversationID,
			"question":        question,
		})
		if err != nil {
			return err
		}

		var turn storage.Turn
		if err := decodeJSON(resp, &turn); err != nil {
			return err
		}

		fmt.Println(turn.Answer)
		if len(turn.Citations) > 0 {
			fmt.Printf("\n%s %s\n", colorize(colorBold, "Sources:"), strings.Join(turn.Citations, ", "))
		}
		fmt.Printf("\n%s %s\n", colorize(colorCyan, "conversation:"), turn.ConversationID)
		fmt.Printf("%s %s\n", colorize(colorCyan, "turn:"), turn.ID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation ID to continue")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a document to the knowledge base",
	Long: `Add a document to the knowledge base. Indexing happens asynchronously.

Examples:
  lore ingest --text "Deploys run via terraform apply" --title "Deploy notes"
  lore ingest --file ./runbook.md
  lore ingest --file ./handbook.pdf --title "Handbook"
  lore ingest --file ./runbook.md --id 8f14e45f --title "Runbook v2"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		sourceType, _ := cmd.Flags().GetString("type")
		docID, _ := cmd.Flags().GetString("id")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]any{}
		if docID != "" {
			req["id"] = docID
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			if sourceType == "" {
				sourceType = "markdown"
			}
			req["content"] = text
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if sourceType == "" {
				sourceType = sourceTypeForFile(file)
			}
			if sourceType == "pdf" || sourceType == "docx" {
				req["content_base64"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["content"] = string(data)
			}
			if title == "" {
				req["title"] = filepath.Base(file)
			}
		}
		req["source_type"] = sourceType

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			ID      string `json:"id"`
			Version int    `json:"version"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s (version %d)", result.ID, result.Version)
		return nil
	},
}

func sourceTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	default:
		return "text"
	}
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("type", "", "source type: markdown, html, pdf, docx, text (default: by extension)")
	ingestCmd.Flags().String("id", "", "existing document ID to supersede")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "React to answers and view feedback stats",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add <turn-id> <kind>",
	Short: "Record a reaction to an answer turn",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		turnID, kind := args[0], args[1]
		author, _ := cmd.Flags().GetString("author")
		comment, _ := cmd.Flags().GetString("comment")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/feedback", map[string]string{
			"turn_id": turnID,
			"author":  author,
			"kind":    kind,
			"comment": comment,
		})
		if err != nil {
			return err
		}

		var fb storage.Feedback
		if err := decodeJSON(resp, &fb); err != nil {
			return err
		}

		printSuccess("Recorded %s feedback on turn %s", fb.Kind, fb.TurnID)
		return nil
	},
}

var feedbackStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate feedback counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _ := cmd.Flags().GetString("day")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/feedback/stats"
		if day != "" {
			path += "?day=" + day
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var stats struct {
			Positive int `json:"positive"`
			Negative int `json:"negative"`
			Neutral  int `json:"neutral"`
			Removed  int `json:"removed"`
			Total    int `json:"total"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Positive", "%d", stats.Positive)
		printStatus("Negative", "%d", stats.Negative)
		printStatus("Neutral", "%d", stats.Neutral)
		printStatus("Removed", "%d", stats.Removed)
		printStatus("Total", "%d", stats.Total)
		return nil
	},
}

func init() {
	feedbackAddCmd.Flags().String("author", "cli", "who is reacting")
	feedbackAddCmd.Flags().String("comment", "", "optional free-form comment")
	feedbackStatsCmd.Flags().String("day", "", "restrict to one day (YYYY-MM-DD)")
	feedbackCmd.AddCommand(feedbackAddCmd)
	feedbackCmd.AddCommand(feedbackStatsCmd)
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage indexed documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents and their index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/documents?limit=%d", limit))
		if err != nil {
			return err
		}

		var docs []storage.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			title := d.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  v%d  %-8s  %s\n",
				colorize(colorCyan, d.ID[:8]),
				d.Version,
				d.Status,
				title,
			)
			if d.Status == storage.DocFailed && d.LastError != "" {
				fmt.Printf("          %s\n", colorize(colorRed, d.LastError))
			}
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its index entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	documentsListCmd.Flags().Int("limit", 20, "maximum number of documents to list")
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScholar/services/scholar/handlers"
)

var (
	collection string
	topK       int
	rerank     bool
	authors    []string
	yearFlag   string
	title      string
	doi        string
	topic      string
	pageFlag   int
	quoteFlag  string

	rootCmd = &cobra.Command{
		Use:   "scholarctl",
		Short: "A CLI to manage the Aleutian Scholar literature service",
		Long: `scholarctl talks to a running scholar service: ingest documents,
search and ask questions over the indexed literature, verify citations,
and inspect ingestion tasks.`,
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest [text file]",
		Short: "Ingests an extracted-text document into the service",
		Long: `Reads a plain-text file (pages separated by form feed characters),
uploads it with its metadata, and prints the ingestion task ID to poll.`,
		Args: cobra.ExactArgs(1),
		Run:  runIngestCommand,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a question and prints the cited answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}

	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Searches the index and prints the ranked chunks",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearchCommand,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [author] [year]",
		Short: "Verifies a quoted citation against the page index",
		Args:  cobra.ExactArgs(2),
		Run:   runVerifyCommand,
	}

	tasksCmd = &cobra.Command{
		Use:   "tasks [task-id]",
		Short: "Lists ingestion tasks, or shows one task's status",
		Args:  cobra.MaximumNArgs(1),
		Run:   runTasksCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&collection, "collection", "", "Tenant collection (empty for the shared corpus)")

	ingestCmd.Flags().StringSliceVar(&authors, "author", nil, "Document author (repeatable)")
	ingestCmd.Flags().StringVar(&yearFlag, "year", "", "Publication year")
	ingestCmd.Flags().StringVar(&title, "title", "", "Document title")
	ingestCmd.Flags().StringVar(&doi, "doi", "", "Document DOI")
	ingestCmd.Flags().StringVar(&topic, "topic", "", "Topic label stamped on every chunk")

	searchCmd.Flags().IntVar(&topK, "k", 0, "Number of results (0 for the server default)")
	searchCmd.Flags().BoolVar(&rerank, "rerank", false, "Request cross-encoder reranking")

	verifyCmd.Flags().IntVar(&pageFlag, "page", 0, "Cited page number")
	verifyCmd.Flags().StringVar(&quoteFlag, "quote", "", "Quoted text to locate")
	_ = verifyCmd.MarkFlagRequired("page")
	_ = verifyCmd.MarkFlagRequired("quote")

	rootCmd.AddCommand(ingestCmd, askCmd, searchCmd, verifyCmd, tasksCmd)
}

func apiURL(path string) string {
	u := serviceURL() + path
	if collection != "" {
		u += "?collection=" + url.QueryEscape(collection)
	}
	return u
}

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(apiURL(path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("service returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(apiURL(path))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("service returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

func runIngestCommand(cmd *cobra.Command, args []string) {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("Failed to read %s: %v", args[0], err)
	}

	// Pages are separated by form feeds, the convention PDF text
	// extractors use. A file without form feeds is a single page.
	var pages []handlers.PageBody
	for i, text := range strings.Split(string(raw), "\f") {
		pages = append(pages, handlers.PageBody{Number: i + 1, Text: text})
	}

	req := handlers.IngestDocumentRequest{
		Filename: filepath.Base(args[0]),
		Pages:    pages,
		Authors:  authors,
		Year:     yearFlag,
		Title:    title,
		DOI:      doi,
		Topic:    topic,
		Content:  base64.StdEncoding.EncodeToString(raw),
	}

	var resp struct {
		TaskID     string `json:"task_id"`
		DocumentID string `json:"document_id"`
	}
	if err := postJSON("/v1/documents", req, &resp); err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}
	fmt.Printf("Queued ingestion.\n  document: %s\n  task:     %s\n", resp.DocumentID, resp.TaskID)
	fmt.Println("Poll with: scholarctl tasks", resp.TaskID)
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	var resp struct {
		Text      string `json:"text"`
		Confident bool   `json:"confident"`
		Citations []struct {
			Author   string `json:"author"`
			Year     int    `json:"year"`
			Page     int    `json:"page"`
			Verified bool   `json:"verified"`
		} `json:"citations"`
	}
	if err := postJSON("/v1/ask", handlers.AskRequest{Question: question}, &resp); err != nil {
		log.Fatalf("Ask failed: %v", err)
	}

	fmt.Println(resp.Text)
	if !resp.Confident {
		fmt.Println("\n[low confidence: the evidence or citations did not fully check out]")
	}
	if len(resp.Citations) > 0 {
		fmt.Println("\nCitations:")
		for _, c := range resp.Citations {
			mark := "FAILED"
			if c.Verified {
				mark = "ok"
			}
			fmt.Printf("  (%s %d, p. %d) %s\n", c.Author, c.Year, c.Page, mark)
		}
	}
}

func runSearchCommand(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	var resp struct {
		Chunks []struct {
			Chunk struct {
				Content   string `json:"content"`
				Authors   string `json:"authors"`
				Year      int    `json:"year"`
				PageStart int    `json:"page_start"`
				Tier      string `json:"tier"`
			} `json:"chunk"`
			Score float64 `json:"score"`
		} `json:"chunks"`
		Degraded bool `json:"degraded"`
	}
	req := handlers.SearchRequest{Query: query, K: topK, Rerank: rerank}
	if err := postJSON("/v1/search", req, &resp); err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	if resp.Degraded {
		fmt.Println("[degraded: some retrieval dependencies were unavailable]")
	}
	for i, c := range resp.Chunks {
		fmt.Printf("%2d. [%.3f] (%s %d, p. %d, %s)\n    %s\n",
			i+1, c.Score, c.Chunk.Authors, c.Chunk.Year, c.Chunk.PageStart, c.Chunk.Tier,
			truncate(c.Chunk.Content, 200))
	}
}

func runVerifyCommand(cmd *cobra.Command, args []string) {
	year := 0
	if _, err := fmt.Sscanf(args[1], "%d", &year); err != nil {
		log.Fatalf("Invalid year %q", args[1])
	}

	var resp struct {
		Exists         bool    `json:"exists"`
		MatchedExactly bool    `json:"matched_exactly"`
		Similarity     float64 `json:"similarity"`
		Citation       string  `json:"citation"`
		Reason         string  `json:"reason"`
	}
	req := handlers.VerifyRequest{Author: args[0], Year: year, Page: pageFlag, Quote: quoteFlag}
	if err := postJSON("/v1/verify", req, &resp); err != nil {
		log.Fatalf("Verify failed: %v", err)
	}

	switch {
	case resp.Exists && resp.MatchedExactly:
		fmt.Printf("VERIFIED %s (exact match)\n", resp.Citation)
	case resp.Exists:
		fmt.Printf("VERIFIED %s (fuzzy match, similarity %.2f)\n", resp.Citation, resp.Similarity)
	default:
		fmt.Printf("NOT VERIFIED: %s\n", resp.Reason)
	}
}

func runTasksCommand(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		var task struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			Message  string `json:"message"`
			Error    string `json:"error"`
		}
		if err := getJSON("/v1/tasks/"+args[0], &task); err != nil {
			log.Fatalf("Failed to load task: %v", err)
		}
		fmt.Printf("%s  %s  %d%%  %s%s\n", task.ID, task.Status, task.Progress, task.Message, task.Error)
		return
	}

	var resp struct {
		Tasks []struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Progress int    `json:"progress"`
		} `json:"tasks"`
	}
	if err := getJSON("/v1/tasks", &resp); err != nil {
		log.Fatalf("Failed to list tasks: %v", err)
	}
	for _, t := range resp.Tasks {
		fmt.Printf("%s  %-10s %3d%%\n", t.ID, t.Status, t.Progress)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

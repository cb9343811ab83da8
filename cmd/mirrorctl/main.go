// Command mirrorctl is an operator CLI for the mirror admin API: submit
// mirror requests and watch their jobs drain with a progress bar, or browse
// an upstream index before deciding what to mirror.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var (
	serverURL string
	apiKey    string
)

func main() {
	root := &cobra.Command{
		Use:   "mirrorctl",
		Short: "Operate the customstream mirror service",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3001", "customstream API base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("ADMIN_API_KEY"), "admin API key")

	root.AddCommand(mirrorCmd())
	root.AddCommand(streamsCmd())
	root.AddCommand(productsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mirrorCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "mirror <index_url> <product_id...>",
		Short: "Submit product_ids to the mirror queue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexURL := args[0]
			productIDs := args[1:]

			var result struct {
				Data struct {
					Enqueued []struct {
						ProductID string `json:"product_id"`
						JobID     int    `json:"job_id"`
					} `json:"enqueued"`
					Skipped []struct {
						ProductID string `json:"product_id"`
						Reason    string `json:"reason"`
					} `json:"skipped"`
				} `json:"data"`
				Message string `json:"message"`
			}

			if err := postJSON("/api/v1/mirror", map[string]interface{}{
				"index_url":   indexURL,
				"product_ids": productIDs,
			}, &result); err != nil {
				return err
			}

			for _, s := range result.Data.Skipped {
				fmt.Printf("skipped %s: %s\n", s.ProductID, s.Reason)
			}
			for _, e := range result.Data.Enqueued {
				fmt.Printf("enqueued %s as job %d\n", e.ProductID, e.JobID)
			}

			if !wait || len(result.Data.Enqueued) == 0 {
				return nil
			}

			jobIDs := make([]int, 0, len(result.Data.Enqueued))
			for _, e := range result.Data.Enqueued {
				jobIDs = append(jobIDs, e.JobID)
			}
			return watchJobs(jobIDs)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for submitted jobs to finish, showing progress")
	return cmd
}

type jobStatus struct {
	ID       int    `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// watchJobs polls each job's progress in turn, once a second, and renders an
// mpb bar per job until every job reaches a terminal state.
func watchJobs(jobIDs []int) error {
	progress := mpb.New(mpb.WithWidth(48))
	bars := make(map[int]*mpb.Bar, len(jobIDs))
	for _, id := range jobIDs {
		bars[id] = progress.AddBar(100,
			mpb.PrependDecorators(decor.Name(fmt.Sprintf("job %d ", id))),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}

	pending := make(map[int]bool, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = true
	}

	for len(pending) > 0 {
		for id := range pending {
			var wrapper struct {
				Data jobStatus `json:"data"`
			}
			if err := getJSON(fmt.Sprintf("/api/v1/mirror/jobs/%d", id), &wrapper); err != nil {
				return err
			}

			bar := bars[id]
			bar.SetCurrent(int64(wrapper.Data.Progress))

			if wrapper.Data.Status == "completed" || wrapper.Data.Status == "failed" {
				bar.SetCurrent(100)
				bar.Abort(false)
				delete(pending, id)
				if wrapper.Data.Status == "failed" {
					fmt.Printf("job %d failed: %s\n", id, wrapper.Data.Message)
				}
			}
		}
		if len(pending) > 0 {
			time.Sleep(time.Second)
		}
	}

	progress.Wait()
	return nil
}

func streamsCmd() *cobra.Command {
	var indexURL string
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "List streams advertised by an upstream index",
		RunE: func(cmd *cobra.Command, args []string) error {
			var wrapper struct {
				Data []struct {
					StreamID string   `json:"stream_id"`
					Products []string `json:"products"`
				} `json:"data"`
			}
			if err := getJSON("/api/v1/upstream/streams?index_url="+indexURL, &wrapper); err != nil {
				return err
			}
			for _, s := range wrapper.Data {
				fmt.Printf("%s\t%d products\n", s.StreamID, len(s.Products))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&indexURL, "index-url", "", "upstream index.json URL")
	cmd.MarkFlagRequired("index-url")
	return cmd
}

func productsCmd() *cobra.Command {
	var indexURL string
	cmd := &cobra.Command{
		Use:   "products <stream_id>",
		Short: "List products available in an upstream stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var wrapper struct {
				Data []struct {
					ProductID     string `json:"product_id"`
					Name          string `json:"name"`
					LatestVersion string `json:"latest_version"`
				} `json:"data"`
			}
			url := fmt.Sprintf("/api/v1/upstream/streams/%s/products?index_url=%s", args[0], indexURL)
			if err := getJSON(url, &wrapper); err != nil {
				return err
			}
			for _, p := range wrapper.Data {
				fmt.Printf("%s\t%s\t%s\n", p.ProductID, p.Name, p.LatestVersion)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&indexURL, "index-url", "", "upstream index.json URL")
	cmd.MarkFlagRequired("index-url")
	return cmd
}

func postJSON(path string, body interface{}, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	return do(req, out)
}

func getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

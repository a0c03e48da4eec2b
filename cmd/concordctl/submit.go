package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// jobFile is the on-disk description of a submission.
type jobFile struct {
	JobType             string         `yaml:"job_type"`
	JobConfig           map[string]any `yaml:"job_config"`
	AlgorithmConfig     string         `yaml:"algorithm_config"`
	AlgorithmConfigFile string         `yaml:"algorithm_config_file"`
}

type submitBody struct {
	JobType         string          `json:"job_type"`
	JobConfig       json.RawMessage `json:"job_config,omitempty"`
	AlgorithmConfig string          `json:"algorithm_config"`
}

type statusBody struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Exception string `json:"exception,omitempty"`
}

// loadJobFile reads a YAML job description. algorithm_config_file is
// resolved relative to the working directory.
func loadJobFile(path string) (*submitBody, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var jf jobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if jf.JobType == "" {
		return nil, fmt.Errorf("%s: job_type is required", path)
	}

	body := &submitBody{JobType: jf.JobType, AlgorithmConfig: jf.AlgorithmConfig}
	if jf.AlgorithmConfigFile != "" {
		algo, err := os.ReadFile(jf.AlgorithmConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read algorithm config: %w", err)
		}
		body.AlgorithmConfig = string(algo)
	}
	if jf.JobConfig != nil {
		raw, err := json.Marshal(jf.JobConfig)
		if err != nil {
			return nil, fmt.Errorf("encode job_config: %w", err)
		}
		body.JobConfig = raw
	}
	return body, nil
}

func newSubmitCmd(flags *globalFlags) *cobra.Command {
	var (
		file     string
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit -f job.yaml",
		Short: "Submit a job to the master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := loadJobFile(file)
			if err != nil {
				return err
			}
			c := newAPIClient(flags.master, flags.timeout)

			var resp statusBody
			if err := c.do(cmd.Context(), http.MethodPost, "/submit", body, &resp, http.StatusBadRequest); err != nil {
				return err
			}
			if resp.Exception != "" {
				return errors.New(resp.Exception)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)

			if !wait {
				return nil
			}
			final, err := waitForJob(cmd.Context(), c, resp.JobID, interval)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), final)
			if final != "SUCCESS" {
				return fmt.Errorf("job %s ended %s", resp.JobID, final)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML job file")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --wait")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// waitForJob polls /query until the job reaches SUCCESS or FAILED.
func waitForJob(ctx context.Context, c *apiClient, jobID string, interval time.Duration) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := queryJob(ctx, c, jobID)
		if err != nil {
			return "", err
		}
		switch status {
		case "SUCCESS", "FAILED", "NOTFOUND":
			return status, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func queryJob(ctx context.Context, c *apiClient, jobID string) (string, error) {
	var resp statusBody
	if err := c.do(ctx, http.MethodPost, "/query", map[string]string{"job_id": jobID}, &resp, http.StatusNotFound); err != nil {
		return "", err
	}
	return resp.Status, nil
}

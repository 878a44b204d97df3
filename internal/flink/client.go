/*
Copyright 2019 Google LLC.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	savepointStateInProgress = "IN_PROGRESS"
	savepointStateCompleted  = "COMPLETED"
)

// Client - Flink API client.
type Client struct {
	log        logr.Logger
	httpClient *http.Client
}

type responseError struct {
	StatusCode int
	Status     string
}

func (e *responseError) Error() string {
	return e.Status
}

// IsNotFound tells whether the job manager answered 404.
func IsNotFound(err error) bool {
	var re *responseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

type roundTripper struct {
	Proxied http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (res *http.Response, e error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "flink-operator")
	resp, err := rt.Proxied.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &responseError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return resp, nil
}

func parseJson(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, out)
	}
	return err
}

// Job defines Flink job status.
type Job struct {
	Id               string `json:"jid"`
	State            string `json:"state"`
	Name             string `json:"name"`
	StartTime        int64  `json:"start-time"`
	EndTime          int64  `json:"end-time"`
	LastModification int64  `json:"last-modification"`
}

// JobsOverview defines Flink job overview list.
type JobsOverview struct {
	Jobs []Job
}

type JobByStartTime []Job

func (jst JobByStartTime) Len() int           { return len(jst) }
func (jst JobByStartTime) Swap(i, j int)      { jst[i], jst[j] = jst[j], jst[i] }
func (jst JobByStartTime) Less(i, j int) bool { return jst[i].StartTime > jst[j].StartTime }

// SavepointTriggerID defines trigger ID of an async savepoint operation.
type SavepointTriggerID struct {
	RequestID string `json:"request-id"`
}

// SavepointFailureCause defines the cause of savepoint failure.
type SavepointFailureCause struct {
	ExceptionClass string `json:"class"`
	StackTrace     string `json:"stack-trace"`
}

// SavepointStateID - enum("IN_PROGRESS", "COMPLETED").
type SavepointStateID struct {
	ID string `json:"id"`
}

// SavepointStatus defines savepoint status of a job.
type SavepointStatus struct {
	// Flink job ID.
	JobID string
	// Savepoint operation trigger ID.
	TriggerID string
	// Completed or not.
	Completed bool
	// Savepoint location URI, non-empty when savepoint succeeded.
	Location string
	// Cause of the failure, non-empty when savepoint failed
	FailureCause SavepointFailureCause
}

func (s *SavepointStatus) IsSuccessful() bool {
	return s.Completed && s.FailureCause.StackTrace == ""
}

func (s *SavepointStatus) IsFailed() bool {
	return s.Completed && s.FailureCause.StackTrace != ""
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	return parseJson(resp, out)
}

func (c *Client) send(ctx context.Context, method string, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	if out == nil {
		resp.Body.Close()
		return nil
	}
	return parseJson(resp, out)
}

func (c *Client) GetJobsOverview(ctx context.Context, apiBaseURL string) (*JobsOverview, error) {
	jobsOverview := &JobsOverview{}
	if err := c.get(ctx, apiBaseURL+"/jobs/overview", jobsOverview); err != nil {
		return nil, err
	}

	sort.Sort(JobByStartTime(jobsOverview.Jobs))

	return jobsOverview, nil
}

// CancelJob cancels a job without savepoint.
func (c *Client) CancelJob(ctx context.Context, apiBaseURL string, jobID string) error {
	return c.send(ctx, http.MethodPatch, fmt.Sprintf("%s/jobs/%s?mode=cancel", apiBaseURL, jobID), nil, nil)
}

// TriggerSavepoint triggers an async savepoint operation.
func (c *Client) TriggerSavepoint(ctx context.Context, apiBaseURL string, jobID string, dir string, cancel bool) (*SavepointTriggerID, error) {
	url := fmt.Sprintf("%s/jobs/%s/savepoints", apiBaseURL, jobID)
	body := map[string]interface{}{
		"target-directory": dir,
		"cancel-job":       cancel,
	}
	triggerID := &SavepointTriggerID{}
	err := c.send(ctx, http.MethodPost, url, body, triggerID)
	return triggerID, err
}

// StopJobWithSavepoint triggers an async stop-with-savepoint operation.
func (c *Client) StopJobWithSavepoint(ctx context.Context, apiBaseURL string, jobID string, dir string) (*SavepointTriggerID, error) {
	url := fmt.Sprintf("%s/jobs/%s/stop", apiBaseURL, jobID)
	body := map[string]interface{}{
		"targetDirectory": dir,
		"drain":           false,
	}
	triggerID := &SavepointTriggerID{}
	err := c.send(ctx, http.MethodPost, url, body, triggerID)
	return triggerID, err
}

// GetSavepointStatus returns savepoint status.
//
// Flink API response examples:
//
// 1) success:
//
//	{
//	   "status":{"id":"COMPLETED"},
//	   "operation":{
//	     "location":"file:/tmp/savepoint-ad4025-dd46c1bd1c80"
//	   }
//	}
//
// 2) failure:
//
//	{
//	   "status":{"id":"COMPLETED"},
//	   "operation":{
//	     "failure-cause":{
//	       "class": "java.util.concurrent.CompletionException",
//	       "stack-trace": "..."
//	     }
//	   }
//	}
func (c *Client) GetSavepointStatus(
	ctx context.Context, apiBaseURL string, jobID string, triggerID string) (*SavepointStatus, error) {
	var url = fmt.Sprintf("%s/jobs/%s/savepoints/%s", apiBaseURL, jobID, triggerID)
	var status = &SavepointStatus{JobID: jobID, TriggerID: triggerID}
	var rootJSON map[string]*json.RawMessage
	var stateID SavepointStateID
	var opJSON map[string]*json.RawMessage

	if err := c.get(ctx, url, &rootJSON); err != nil {
		return nil, err
	}

	c.log.V(1).Info("Savepoint status json", "json", rootJSON)
	if state, ok := rootJSON["status"]; ok && state != nil {
		if err := json.Unmarshal(*state, &stateID); err != nil {
			return nil, err
		}
		status.Completed = stateID.ID == savepointStateCompleted
	}
	if op, ok := rootJSON["operation"]; ok && op != nil {
		if err := json.Unmarshal(*op, &opJSON); err != nil {
			return nil, err
		}
		// Success
		if location, ok := opJSON["location"]; ok && location != nil {
			if err := json.Unmarshal(*location, &status.Location); err != nil {
				return nil, err
			}
		}
		// Failure
		if failureCause, ok := opJSON["failure-cause"]; ok && failureCause != nil {
			if err := json.Unmarshal(*failureCause, &status.FailureCause); err != nil {
				return nil, err
			}
		}
	}
	return status, nil
}

// WaitForSavepoint polls the savepoint status until it completes, the
// timeout expires or ctx is done.
func (c *Client) WaitForSavepoint(
	ctx context.Context, apiBaseURL string, jobID string, triggerID string, interval, timeout time.Duration) (*SavepointStatus, error) {
	var status *SavepointStatus
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		var err error
		status, err = c.GetSavepointStatus(ctx, apiBaseURL, jobID, triggerID)
		if err != nil {
			c.log.Info("Failed to get savepoint status, retrying", "jobID", jobID, "error", err.Error())
			return false, nil
		}
		return status.Completed, nil
	})
	if err != nil {
		return status, fmt.Errorf("savepoint %s of job %s did not complete: %w", triggerID, jobID, err)
	}
	return status, nil
}

func NewDefaultClient(log logr.Logger) *Client {
	return NewClient(log, &http.Client{})
}

func NewClient(log logr.Logger, httpClient *http.Client) *Client {
	if httpClient.Transport == nil {
		httpClient.Transport = http.DefaultTransport
	}
	httpClient.Transport = &roundTripper{Proxied: httpClient.Transport}

	return &Client{log: log, httpClient: httpClient}
}

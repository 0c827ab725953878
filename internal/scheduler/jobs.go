package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gonzalop/bbdl"
	"gopkg.in/yaml.v3"
)

// Requester sends a Data License request. *bbdl.Client implements it.
type Requester interface {
	Request(ctx context.Context, identifiers, fields, categories []string, opts ...bbdl.RequestOption) (*bbdl.Result, error)
}

// Saver persists a result. *store.Store implements it.
type Saver interface {
	Save(ctx context.Context, res *bbdl.Result, at time.Time) (string, error)
}

// JobSpec describes a recurring request.
type JobSpec struct {
	Name        string   `yaml:"name"`
	Schedule    string   `yaml:"schedule"`
	Identifiers []string `yaml:"identifiers"`
	Fields      []string `yaml:"fields"`
	Categories  []string `yaml:"categories"`
	BVAL        bool     `yaml:"bval"`
	// HistoryDays, when positive, requests the history of the last
	// HistoryDays days up to the run date.
	HistoryDays int `yaml:"history_days"`
}

// JobFile is the YAML document read by LoadJobs.
type JobFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// LoadJobs reads job specs from a YAML file.
func LoadJobs(path string) ([]JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	var f JobFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse jobs: %w", err)
	}
	for i, j := range f.Jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("job %d: name is required", i+1)
		}
		if j.Schedule == "" {
			return nil, fmt.Errorf("job %s: schedule is required", j.Name)
		}
		if len(j.Identifiers) == 0 || len(j.Fields) == 0 {
			return nil, fmt.Errorf("job %s: identifiers and fields are required", j.Name)
		}
	}
	return f.Jobs, nil
}

// RequestJob runs a JobSpec and saves its result.
type RequestJob struct {
	Spec   JobSpec
	Client Requester
	Store  Saver
	// Now defaults to time.Now.
	Now func() time.Time
}

// Name implements Job.
func (j *RequestJob) Name() string { return j.Spec.Name }

// Run implements Job.
func (j *RequestJob) Run(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	at := now()

	var opts []bbdl.RequestOption
	if j.Spec.BVAL {
		opts = append(opts, bbdl.WithBVAL())
	}
	if j.Spec.HistoryDays > 0 {
		end := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		opts = append(opts, bbdl.WithDateRange(end.AddDate(0, 0, -j.Spec.HistoryDays), end))
	}

	res, err := j.Client.Request(ctx, j.Spec.Identifiers, j.Spec.Fields, j.Spec.Categories, opts...)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Spec.Name, err)
	}
	if j.Store == nil {
		return nil
	}
	if _, err := j.Store.Save(ctx, res, at); err != nil {
		return fmt.Errorf("job %s: failed to save result: %w", j.Spec.Name, err)
	}
	return nil
}

package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/procexec"
	"github.com/seantiz/concord/internal/rpc"
)

// FLType is the job type of FLJob.
const FLType = "paddle_fl"

// Task types produced by FLJob.
const (
	TaskTypeFLTrainer    = "fl_trainer"
	TaskTypeFLAggregator = "fl_aggregator"
)

const (
	flConfigFile          = "config.json"
	flAlgorithmConfigFile = "algorithm_config.yaml"
	flCompileLog          = "compile.log"
)

// FLConfig is the job_config of a federated learning job.
type FLConfig struct {
	Program           string   `json:"program"`
	WorkerNum         int      `json:"worker_num"`
	ProposalWaitTime  float64  `json:"proposal_wait_time"`
	CompileCommand    []string `json:"compile_command,omitempty"`
	TrainerCommand    []string `json:"trainer_command,omitempty"`
	AggregatorCommand []string `json:"aggregator_command,omitempty"`
	TimeoutS          int      `json:"timeout_s,omitempty"`
}

// FLJob is a federated training round. The owner runs the aggregator on an
// endpoint of its own cluster, and each of WorkerNum other parties runs one
// trainer against it. Compiling runs the program's master entrypoint, which
// leaves per-trainer and per-server artifacts under compile/.
type FLJob struct {
	id              string
	cfg             FLConfig
	raw             json.RawMessage
	algorithmConfig string
	workDir         string

	serverEndpoint     string
	aggregatorEndpoint string
	aggregatorAssignee string
}

// NewFLLoader returns the Loader for FLType. Job directories are created
// under workDir/jobs/<job_id>.
func NewFLLoader(workDir string) Loader {
	return func(jobID string, config json.RawMessage, algorithmConfig string) (Job, error) {
		var cfg FLConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if cfg.Program == "" {
			return nil, errors.New("program is required")
		}
		if cfg.WorkerNum < 1 {
			return nil, fmt.Errorf("worker_num must be positive, got %d", cfg.WorkerNum)
		}
		if cfg.CompileCommand == nil {
			cfg.CompileCommand = []string{"python3", "-m", cfg.Program + ".fl_master"}
		}
		if cfg.TrainerCommand == nil {
			cfg.TrainerCommand = []string{"python3", "-m", cfg.Program + ".fl_trainer"}
		}
		if cfg.AggregatorCommand == nil {
			cfg.AggregatorCommand = []string{"python3", "-m", cfg.Program + ".fl_aggregator"}
		}
		return &FLJob{
			id:              jobID,
			cfg:             cfg,
			raw:             config,
			algorithmConfig: algorithmConfig,
			workDir:         workDir,
		}, nil
	}
}

func (j *FLJob) ID() string   { return j.id }
func (j *FLJob) Type() string { return FLType }

func (j *FLJob) ResourceRequired() *rpc.ResourceRequest {
	return &rpc.ResourceRequest{NumEndpoints: 2}
}

func (j *FLJob) SetRequiredResource(resp *rpc.ResourceResponse) error {
	if len(resp.Endpoints) < 2 {
		return fmt.Errorf("need 2 endpoints, got %d", len(resp.Endpoints))
	}
	j.serverEndpoint = resp.Endpoints[0]
	j.aggregatorEndpoint = resp.Endpoints[1]
	j.aggregatorAssignee = resp.WorkerID
	return nil
}

// CompileDir is where the compile step runs and leaves its artifacts.
func (j *FLJob) CompileDir() string {
	return filepath.Join(j.workDir, "jobs", j.id, "master")
}

func (j *FLJob) Compile(ctx context.Context) error {
	if j.serverEndpoint == "" {
		return errors.New("compile before resources were allocated")
	}

	dir := j.CompileDir()
	cmd := append(append([]string(nil), j.cfg.CompileCommand...),
		"--ps-endpoint", j.serverEndpoint,
		"--algorithm-config", flAlgorithmConfigFile,
		"--config", flConfigFile,
	)
	res, err := procexec.Run(ctx, procexec.Spec{
		Command:  cmd,
		Dir:      dir,
		Files:    j.configFiles(),
		TimeoutS: j.cfg.TimeoutS,
	}, nil)
	if err != nil {
		return fmt.Errorf("compile job %s: %w", j.id, err)
	}
	if werr := os.WriteFile(filepath.Join(dir, flCompileLog), []byte(res.Output), 0o644); werr != nil {
		return fmt.Errorf("write compile log: %w", werr)
	}
	if res.ExitCode != 0 {
		return &CompileError{JobID: j.id, ExitCode: res.ExitCode, Detail: res.Error}
	}
	return nil
}

func (j *FLJob) configFiles() map[string][]byte {
	return map[string][]byte{
		flConfigFile:          j.raw,
		flAlgorithmConfigFile: []byte(j.algorithmConfig),
	}
}

func (j *FLJob) ProposalRequest() (*rpc.ProposalRequest, error) {
	tasks := make([]model.Task, j.cfg.WorkerNum)
	for i := range tasks {
		t, err := j.trainerTask(i)
		if err != nil {
			return nil, err
		}
		tasks[i] = t
	}
	return &rpc.ProposalRequest{
		JobID:             j.id,
		JobType:           FLType,
		Tasks:             tasks,
		WaitTime:          time.Duration(j.cfg.ProposalWaitTime * float64(time.Second)),
		MinimumAcceptance: j.cfg.WorkerNum,
		MaximumAcceptance: j.cfg.WorkerNum,
	}, nil
}

func (j *FLJob) trainerTask(i int) (model.Task, error) {
	files, err := j.artifacts(fmt.Sprintf("trainer%d", i))
	if err != nil {
		return model.Task{}, err
	}
	cmd := append(append([]string(nil), j.cfg.TrainerCommand...),
		"--scheduler-ep", j.aggregatorEndpoint,
		"--trainer-id", strconv.Itoa(i),
		"--trainer-ep", fmt.Sprintf("trainer_%d", i),
		"--config", flConfigFile,
		"--algorithm-config", flAlgorithmConfigFile,
	)
	return j.processTask(fmt.Sprintf("trainer_%d", i), TaskTypeFLTrainer, "", procexec.Spec{
		Command:  cmd,
		Files:    files,
		TimeoutS: j.cfg.TimeoutS,
	})
}

func (j *FLJob) LocalTasks() ([]model.Task, error) {
	files, err := j.artifacts("server0")
	if err != nil {
		return nil, err
	}
	cmd := append(append([]string(nil), j.cfg.AggregatorCommand...),
		"--scheduler-ep", j.aggregatorEndpoint,
		"--config", flConfigFile,
	)
	t, err := j.processTask("aggregator", TaskTypeFLAggregator, j.aggregatorAssignee, procexec.Spec{
		Command:  cmd,
		Files:    files,
		TimeoutS: j.cfg.TimeoutS,
	})
	if err != nil {
		return nil, err
	}
	return []model.Task{t}, nil
}

func (j *FLJob) processTask(name, taskType, assignee string, spec procexec.Spec) (model.Task, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return model.Task{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return model.Task{
		JobID:    j.id,
		TaskID:   TaskID(j.id, name),
		TaskType: taskType,
		Assignee: assignee,
		Payload:  payload,
	}, nil
}

// artifacts collects the compile outputs under compile/<name> together with
// the job configuration files. A missing artifact directory is not an error.
func (j *FLJob) artifacts(name string) (map[string][]byte, error) {
	files := j.configFiles()
	root := filepath.Join(j.CompileDir(), "compile", name)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("collect %s artifacts: %w", name, err)
	}
	return files, nil
}

// Package manifest loads the pipeline profile: which analysis pipeline the
// worker runs and with which tool parameters.
//
// Example profile (YAML):
//
//	version: "1.0"
//	pipeline:
//	  repository: https://github.com/maxlcummins/cloudres
//	  entrypoint: main.nf
//	  profile: docker
//	  hostile_db: s3://hostile/hostile
//	  params:
//	    genome_size: "5000000"
//	worker:
//	  home: /home/ec2-user
package manifest

import "sort"

// CurrentVersion is the only accepted profile version.
const CurrentVersion = "1.0"

// Profile is a validated pipeline profile.
type Profile struct {
	Version  string         `json:"version" yaml:"version"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Worker   WorkerConfig   `json:"worker,omitempty" yaml:"worker,omitempty"`
}

// PipelineConfig describes the Nextflow pipeline invocation.
type PipelineConfig struct {
	// Repository is cloned onto the worker.
	Repository string `json:"repository" yaml:"repository"`

	// Revision is an optional branch, tag or commit.
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`

	// Entrypoint is the script inside the repository. Default: main.nf.
	Entrypoint string `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`

	// Profile is the Nextflow -profile. Default: docker.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// WorkDir is the Nextflow -work-dir. Default: work.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	// HostileDB is the host-read removal reference synced to the worker.
	HostileDB string `json:"hostile_db,omitempty" yaml:"hostile_db,omitempty"`

	// Params are passed as --name value.
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// WorkerConfig describes the compute host environment.
type WorkerConfig struct {
	// Home is the base directory on the worker. Default: /home/ec2-user.
	Home string `json:"home,omitempty" yaml:"home,omitempty"`

	// Packages are installed with yum before the run.
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`
}

// Param is one pipeline parameter.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SortedParams returns Params ordered by name so rendered commands are stable.
func (p PipelineConfig) SortedParams() []Param {
	out := make([]Param, 0, len(p.Params))
	for k, v := range p.Params {
		out = append(out, Param{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ApplyDefaults fills optional fields.
func (m *Profile) ApplyDefaults() {
	if m.Pipeline.Entrypoint == "" {
		m.Pipeline.Entrypoint = "main.nf"
	}
	if m.Pipeline.Profile == "" {
		m.Pipeline.Profile = "docker"
	}
	if m.Pipeline.WorkDir == "" {
		m.Pipeline.WorkDir = "work"
	}
	if m.Worker.Home == "" {
		m.Worker.Home = "/home/ec2-user"
	}
}

// Package assets provides embedded defaults for standalone binary behavior.
//
// Assets are embedded at compile time so the server and CLI work regardless
// of the working directory or installation location.
package assets

import _ "embed"

// DefaultPipelineProfile is the pipeline profile used when no profile path
// is configured.
//
//go:embed default-pipeline.yaml
var DefaultPipelineProfile []byte

// BootstrapTemplate is the text/template rendered into EC2 user data.
//
//go:embed bootstrap.sh.tmpl
var BootstrapTemplate string

// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so profile validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// PipelineProfileSchema is the embedded pipeline-profile JSON schema.
//
//go:embed pipeline-profile.schema.json
var PipelineProfileSchema []byte

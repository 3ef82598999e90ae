package artifactstore

import "path"

// Fixed object names written by the worker bootstrap.
const (
	MarkerName        = "completion_marker.txt"
	ParamsName        = "params.json"
	QualityReportName = "multiqc_report.html"
)

// MarkerKey is the completion signal for a run. Only its existence matters.
func MarkerKey(runID string) string {
	return runID + "/" + MarkerName
}

// ResultsPrefix is where the worker syncs pipeline output.
func ResultsPrefix(runID string) string {
	return runID + "/results/"
}

// PrimaryResultPrefix is scanned for the primary result table.
func PrimaryResultPrefix(runID string) string {
	return ResultsPrefix(runID) + "csvtk/"
}

// QualityReportKey is the fixed location of the aggregated quality report.
func QualityReportKey(runID string) string {
	return ResultsPrefix(runID) + "multiqc/" + QualityReportName
}

// ExecutionReportPrefix is scanned for timestamped execution reports.
func ExecutionReportPrefix(runID string) string {
	return ResultsPrefix(runID) + "pipeline_info/"
}

// InputKey stages an uploaded file under the run namespace. Only the base
// name of filename is kept.
func InputKey(runID, filename string) string {
	return runID + "/" + path.Base("/"+filename)
}

// ParamsKey is the parameter bundle written for the worker.
func ParamsKey(runID string) string {
	return runID + "/" + ParamsName
}

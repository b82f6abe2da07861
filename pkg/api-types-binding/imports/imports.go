package imports

import (
	"github.com/opst/importexec/pkg/api/types/imports"
	"github.com/opst/importexec/pkg/jobs"
)

func ComposeFailure(f jobs.Failure) imports.Failure {
	return imports.Failure{
		Stage:    f.Stage,
		FileName: f.FileName,
		FileType: f.GeoLevel,
		Message:  f.Message,
	}
}

func ComposeDetail(j jobs.Job) imports.Detail {
	var failures []imports.Failure
	for _, f := range j.Failures {
		failures = append(failures, ComposeFailure(f))
	}
	return imports.Detail{
		JobId:      j.Id,
		Dataset:    j.Dataset,
		Status:     string(j.Status),
		Failures:   failures,
		Artifacts:  j.Artifacts,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

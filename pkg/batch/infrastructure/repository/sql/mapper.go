package sql

import (
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/support/util/serialization"
)

// --- Mapper functions ---

func fromDomainJob(j *model.Job) (*JobEntity, error) {
	params, err := serialization.MarshalParams(j.Params)
	if err != nil {
		return nil, err
	}
	results, err := serialization.MarshalResults(j.Results)
	if err != nil {
		return nil, err
	}
	return &JobEntity{
		ID:            j.ID,
		Type:          string(j.Type),
		Params:        params,
		Status:        string(j.Status),
		TotalRows:     j.Progress.TotalRows,
		ProcessedRows: j.Progress.ProcessedRows,
		SuccessCount:  j.Progress.SuccessCount,
		FailedCount:   j.Progress.FailedCount,
		Results:       results,
		UserID:        j.UserID,
		Attempts:      j.Attempts,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}, nil
}

func toDomainJob(entity *JobEntity) (*model.Job, error) {
	jobType := model.JobType(entity.Type)
	params, err := serialization.UnmarshalParams(jobType, entity.Params)
	if err != nil {
		return nil, err
	}
	results, err := serialization.UnmarshalResults(jobType, entity.Results)
	if err != nil {
		return nil, err
	}
	return &model.Job{
		ID:     entity.ID,
		Type:   jobType,
		Params: params,
		Status: model.Status(entity.Status),
		Progress: model.Progress{
			TotalRows:     entity.TotalRows,
			ProcessedRows: entity.ProcessedRows,
			SuccessCount:  entity.SuccessCount,
			FailedCount:   entity.FailedCount,
		},
		Results:     results,
		ErrorLog:    []model.ErrorEntry{},
		UserID:      entity.UserID,
		Attempts:    entity.Attempts,
		CreatedAt:   entity.CreatedAt,
		UpdatedAt:   entity.UpdatedAt,
		StartedAt:   entity.StartedAt,
		CompletedAt: entity.CompletedAt,
	}, nil
}

func fromDomainErrorEntry(jobID string, e model.ErrorEntry) (*JobErrorEntryEntity, error) {
	data, err := serialization.MarshalEntryData(e.Data)
	if err != nil {
		return nil, err
	}
	return &JobErrorEntryEntity{
		JobID:    jobID,
		LoggedAt: e.Timestamp,
		Message:  e.Message,
		RowIndex: e.Row,
		Data:     data,
	}, nil
}

func toDomainErrorEntry(entity *JobErrorEntryEntity) (model.ErrorEntry, error) {
	data, err := serialization.UnmarshalEntryData(entity.Data)
	if err != nil {
		return model.ErrorEntry{}, err
	}
	return model.ErrorEntry{
		Timestamp: entity.LoggedAt,
		Message:   entity.Message,
		Row:       entity.RowIndex,
		Data:      data,
	}, nil
}

// Package serialization converts the JSON columns of the job store (params, results,
// error entry data) to and from their domain types.
package serialization

import (
	"encoding/json"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const module = "serialization"

// MarshalParams serializes job params.
func MarshalParams(p model.Params) (string, error) {
	data, err := model.EncodeParams(p)
	if err != nil {
		logger.Errorf("Failed to serialize job params: %v", err)
		return "", exception.NewBatchError(module, "Failed to serialize job params", err, false, false)
	}
	return string(data), nil
}

// UnmarshalParams deserializes the params of a job of type t.
func UnmarshalParams(t model.JobType, data string) (model.Params, error) {
	p, err := model.DecodeParams(t, []byte(data))
	if err != nil {
		logger.Errorf("Failed to deserialize job params: %v", err)
		return nil, exception.NewBatchError(module, "Failed to deserialize job params", err, false, false)
	}
	return p, nil
}

// MarshalResults serializes job results. Empty results become an empty JSON object.
func MarshalResults(r model.Results) (string, error) {
	if r.ImportResults == nil && r.ReportResults == nil {
		return "{}", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		logger.Errorf("Failed to serialize job results: %v", err)
		return "", exception.NewBatchError(module, "Failed to serialize job results", err, false, false)
	}
	return string(data), nil
}

// UnmarshalResults deserializes job results. The part matching t is always allocated.
func UnmarshalResults(t model.JobType, data string) (model.Results, error) {
	var r model.Results
	if len(data) > 0 && data != "null" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			logger.Errorf("Failed to deserialize job results: %v", err)
			return r, exception.NewBatchError(module, "Failed to deserialize job results", err, false, false)
		}
	}
	switch t {
	case model.JobTypeBulkImport:
		if r.ImportResults == nil {
			r.ImportResults = &model.ImportResults{}
		}
	case model.JobTypeReportGeneration:
		if r.ReportResults == nil {
			r.ReportResults = &model.ReportResults{}
		}
	}
	return r, nil
}

// MarshalEntryData serializes the data payload of an error entry. A nil map stays NULL.
func MarshalEntryData(data map[string]interface{}) (*string, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("Failed to serialize error entry data: %v", err)
		return nil, exception.NewBatchError(module, "Failed to serialize error entry data", err, false, false)
	}
	s := string(b)
	return &s, nil
}

// UnmarshalEntryData deserializes the data payload of an error entry.
func UnmarshalEntryData(data *string) (map[string]interface{}, error) {
	if data == nil || *data == "" || *data == "null" {
		return nil, nil
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal([]byte(*data), &out); err != nil {
		logger.Errorf("Failed to deserialize error entry data: %v", err)
		return nil, exception.NewBatchError(module, "Failed to deserialize error entry data", err, false, false)
	}
	return out, nil
}

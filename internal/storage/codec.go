package storage

import (
	"encoding/json"
	"errors"

	"planpolicy/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeEpochHistory(history []model.EpochRecord) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeEpochHistory(data []byte) ([]model.EpochRecord, error) {
	var history []model.EpochRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	for _, record := range history {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

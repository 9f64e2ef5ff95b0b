package storage

import (
	"encoding/json"
	"errors"

	"nasfit/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// StampVersions tags a record with the current schema and codec versions.
func StampVersions(record *model.ResultRecord) {
	record.SchemaVersion = CurrentSchemaVersion
	record.CodecVersion = CurrentCodecVersion
}

func EncodeResult(record model.ResultRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeResult(data []byte) (model.ResultRecord, error) {
	var record model.ResultRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ResultRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ResultRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

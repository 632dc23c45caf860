package storage

import (
	"fmt"
	"path"
	"regexp"
)

const ContentTypeParquet = "application/vnd.apache.parquet"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildTablePath returns the object key of a dataset table snapshot:
// <dataset>/<table>.parquet.
func BuildTablePath(datasetID, tableName string) (string, error) {
	if err := validatePathComponent(datasetID, "dataset id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(datasetID, tableName+".parquet"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || value == ".." {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

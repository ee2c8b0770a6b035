package stores

import (
	"collabdocs/config"
	"collabdocs/core"
	"collabdocs/stores/aws"
	"collabdocs/stores/filesystem"
	"collabdocs/stores/memory"
	"collabdocs/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.DocumentStore
	core.UserStore
}

// GetStore selects a storage backend from configuration.
func GetStore(cfg *config.Config) Store {
	var store Store

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store = filesystem.NewStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		if cfg.S3BucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store = aws.NewStore(cfg.S3BucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

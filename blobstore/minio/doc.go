// Package minio provides a blobstore.Store for MinIO and other
// S3-compatible object storage.
//
// # Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minio.NewStore(client, "lsh-snapshots", "prod/")
package minio

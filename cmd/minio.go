package cmd

import (
	"context"
	"fmt"
	"time"

	"radiotiker/logger"
	"radiotiker/storage"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"
)

var minioStats bool

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶查看",
	Long:  `列出MinIO存储桶中 MINIO_PREFIX 下的曲库和代理文档，支持只显示统计信息。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MinIO: %s, bucket: %s, prefix: %s\n", cfg.MinioEndpoint, cfg.MinioBucket, cfg.MinioPrefix)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			logger.Fatal("cannot open minio store", logger.ErrorField(err))
		}
		defer store.Close()

		client, err := storage.NewMinioClient(cfg)
		if err != nil {
			logger.Fatal("cannot create minio client", logger.ErrorField(err))
		}

		var count, total int64
		for obj := range client.ListObjects(ctx, cfg.MinioBucket, minio.ListObjectsOptions{Prefix: cfg.MinioPrefix, Recursive: true}) {
			if obj.Err != nil {
				logger.Fatal("listing objects failed", logger.ErrorField(obj.Err))
			}
			count++
			total += obj.Size
			if !minioStats {
				fmt.Printf("%-60s %10d  %s\n", obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339))
			}
		}
		fmt.Printf("%d documents, %d bytes\n", count, total)
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")
}

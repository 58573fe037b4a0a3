package cmd

import (
	"context"
	"fmt"
	"time"

	"radiotiker/cache"
	"radiotiker/logger"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试探测缓存使用的Redis连接是否成功，并进行基本读写操作。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Redis: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Fatal("cannot connect to redis", logger.ErrorField(err))
		}
		defer func() {
			if err := cache.CloseRedis(); err != nil {
				logger.Warn("closing redis", logger.ErrorField(err))
			}
		}()
		fmt.Println("connected")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.TestRedis(ctx); err != nil {
			logger.Fatal("redis round trip failed", logger.ErrorField(err))
		}
		fmt.Println("read/write ok")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}

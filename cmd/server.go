package cmd

import (
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动RadioTiker中继服务器",
	Long:  `启动HTTP服务器：接收代理上传的曲库、记录代理在线状态，并把音频中继给播放器`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

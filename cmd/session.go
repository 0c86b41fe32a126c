package cmd

import (
	"fmt"
	"os"

	"BridgeFM/core/serato"

	"github.com/spf13/cobra"
)

// sessionCmd 开发辅助命令：解析并打印一个 session 文件
var sessionCmd = &cobra.Command{
	Use:   "session <file>",
	Short: "Parse a Serato session file and print its track entries.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read session file: %w", err)
		}

		entries := serato.ParseSessionBytes(data)
		fmt.Printf("%d entries\n", len(entries))
		for i, e := range entries {
			fmt.Printf("%3d  deck=%d  %s - %s", i+1, e.Deck, e.Artist, e.Title)
			if e.Album != "" {
				fmt.Printf("  [%s]", e.Album)
			}
			if e.BPM != 0 {
				fmt.Printf("  %.1f bpm", e.BPM)
			}
			if e.Key != "" {
				fmt.Printf("  key=%s", e.Key)
			}
			if e.StartTime != 0 {
				fmt.Printf("  start=%d", e.StartTime)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
}

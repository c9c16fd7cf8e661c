package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <content-url>",
	Short: "print a dataset's geometry and current verification progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ch, err := openChannel(args[0])
		if err != nil {
			fatalf("stat: %v", err)
		}
		defer ch.Close()

		st := ch.Stat()
		pct := 0.0
		if st.TotalChunks > 0 {
			pct = 100 * float64(st.VerifiedChunks) / float64(st.TotalChunks)
		}
		fmt.Printf("total size:      %d bytes\n", st.TotalSize)
		fmt.Printf("chunk size:      %d bytes\n", st.ChunkSize)
		fmt.Printf("total chunks:    %d\n", st.TotalChunks)
		fmt.Printf("verified chunks: %d (%.1f%%)\n", st.VerifiedChunks, pct)
	},
}

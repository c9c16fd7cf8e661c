package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <content-url>",
	Short: "acquire a dataset's reference tree and local cache without reading any bytes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ch, err := openChannel(args[0])
		if err != nil {
			fatalf("open: %v", err)
		}
		defer ch.Close()

		st := ch.Stat()
		fmt.Printf("total size:      %d bytes\n", st.TotalSize)
		fmt.Printf("chunk size:      %d bytes\n", st.ChunkSize)
		fmt.Printf("total chunks:    %d\n", st.TotalChunks)
		fmt.Printf("verified chunks: %d\n", st.VerifiedChunks)
	},
}

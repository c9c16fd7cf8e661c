package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	readOffset int64
	readLength int64
)

var readCmd = &cobra.Command{
	Use:   "read <content-url>",
	Short: "read a verified byte range from a dataset and write it to stdout",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ch, err := openChannel(args[0])
		if err != nil {
			fatalf("read: %v", err)
		}
		defer ch.Close()

		length := readLength
		if max := ch.Size() - readOffset; length > max {
			length = max
		}
		if length < 0 {
			fatalf("read: offset %d is past the end of a %d byte dataset", readOffset, ch.Size())
		}

		buf := make([]byte, length)
		n, err := ch.ReadAt(buf, readOffset)
		if err != nil {
			fatalf("read: %v", err)
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			fatalf("read: write stdout: %v", err)
		}
	},
}

func init() {
	readCmd.Flags().Int64Var(&readOffset, "offset", 0, "byte offset to start reading from")
	readCmd.Flags().Int64Var(&readLength, "length", 4096, "number of bytes to read")
}

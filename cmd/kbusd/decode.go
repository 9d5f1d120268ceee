package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/kbus/pkg/message"
	"github.com/cuemby/kbus/pkg/wire"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "Decode a message frame",
	Long: `Decode a raw kbus frame and print its fields. With --stream the file
holds length-prefixed frames, as captured from a bridge link, and every
frame is printed. "-" reads standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().Bool("stream", false, "Input is a sequence of length-prefixed frames")
}

func runDecode(cmd *cobra.Command, args []string) error {
	stream, _ := cmd.Flags().GetBool("stream")

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %v", args[0], err)
		}
		defer f.Close()
		in = f
	}

	out := cmd.OutOrStdout()
	if !stream {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		m, err := wire.Decode(data)
		if err != nil {
			return err
		}
		printMessage(out, m)
		return nil
	}

	r := bufio.NewReader(in)
	for n := 0; ; n++ {
		m, err := wire.ReadMessage(r, 0)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		if n > 0 {
			fmt.Fprintln(out)
		}
		printMessage(out, m)
	}
}

func printMessage(w io.Writer, m *message.Message) {
	fmt.Fprintf(w, "Kind:        %s\n", m.Kind())
	fmt.Fprintf(w, "Name:        %s\n", m.Name)
	fmt.Fprintf(w, "ID:          %s\n", m.ID)
	if !m.InReplyTo.IsZero() {
		fmt.Fprintf(w, "In reply to: %s\n", m.InReplyTo)
	}
	fmt.Fprintf(w, "To:          %d\n", m.To)
	fmt.Fprintf(w, "From:        %d\n", m.From)
	if !m.OrigFrom.IsZero() {
		fmt.Fprintf(w, "Orig from:   %s\n", m.OrigFrom)
	}
	if !m.FinalTo.IsZero() {
		fmt.Fprintf(w, "Final to:    %s\n", m.FinalTo)
	}
	fmt.Fprintf(w, "Flags:       %s\n", m.Flags)
	fmt.Fprintf(w, "Data:        %d bytes\n", len(m.Data))
	if len(m.Data) > 0 {
		fmt.Fprintf(w, "             %q\n", m.Data)
	}
}

// Package menu talks to the operator on the console.
package menu

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/comerc/tgrelay/forwarder"
)

// Console asks questions on out and reads one line answers from in.
type Console struct {
	reader *bufio.Reader
	out    io.Writer
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{reader: bufio.NewReader(in), out: out}
}

func (c *Console) Ask(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	input, err := c.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && input != "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// PrintChats writes "<id> <title>" lines and a total.
func PrintChats(out io.Writer, chats []forwarder.Chat) {
	fmt.Fprintln(out, strings.Repeat("#", 42))
	for _, chat := range chats {
		fmt.Fprintf(out, "%d %s\n", chat.Id, chat.Title)
	}
	fmt.Fprintln(out, strings.Repeat("#", 42))
	fmt.Fprintf(out, "Total: %d\n", len(chats))
}

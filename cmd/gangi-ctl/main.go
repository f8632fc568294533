// Command gangi-ctl sets and inspects the gang-scheduling parameters of
// domains on a CPU pool, the Go counterpart of the original gsc tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gangsched/gangsched"
	"github.com/gangsched/gangsched/cmd/gangi-ctl/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var gerr *gangsched.Error
	if errors.As(err, &gerr) {
		return gerr.Kind.ExitCode()
	}
	return 1
}

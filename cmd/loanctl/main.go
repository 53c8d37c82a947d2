// Command loanctl is the operator command line of the loan portal.
package main

import (
	"os"

	"github.com/turtacn/loan-portal/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

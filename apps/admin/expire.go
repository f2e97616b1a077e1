package main

import (
	"context"
	"fmt"
)

// expire runs a single pass of the overdue attempts sweeper.
func (cli *commandLine) expire() error {
	n, err := cli.quizSvc.ExpireOverdue(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d overdue attempt(s) auto-submitted\n", n)
	return nil
}

package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/davgate/davcore/cmd/server/cmd"
)

func main() {
	if err := cmd.NewRoot().Execute(); err != nil {
		logrus.WithError(err).Error("exec cmd failed")
		os.Exit(1)
	}
}

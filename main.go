package main

import (
	"os"

	"github.com/rongxinyin/pezzrr-app/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
